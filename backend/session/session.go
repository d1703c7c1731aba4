// Package session holds the live representation of one connected
// player: identity, health, the outbound mailbox and the delivery loop
// that drains it onto the websocket connection. The inbound dispatch
// loop lives with the websocket server; both loops share one Session
// and either one exiting marks it dead.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// InitialHealth is every player's health at match start.
	InitialHealth = 5

	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

type Session struct {
	id     string
	conn   *websocket.Conn
	mbox   *Mailbox
	logger zerolog.Logger

	mx     sync.Mutex
	name   string
	health int

	alive     atomic.Bool
	closeOnce sync.Once
}

func New(conn *websocket.Conn, logger *zerolog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		conn:   conn,
		mbox:   NewMailbox(defaultMailboxCapacity),
		logger: logger.With().Str("component", "session").Str("sessionID", id).Logger(),
		health: InitialHealth,
	}
	s.alive.Store(true)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Name() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.name
}

// SetName records the display name. Empty names are ignored so a lone
// name message cannot erase what join/create already set.
func (s *Session) SetName(name string) {
	if name == "" {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	s.name = name
}

func (s *Session) Health() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.health
}

// ResetHealth deals a fresh health value at match start.
func (s *Session) ResetHealth() {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.health = InitialHealth
}

// DecrementHealth drops health by one, floored at zero, and returns
// the new value.
func (s *Session) DecrementHealth() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.health > 0 {
		s.health--
	}
	return s.health
}

func (s *Session) IsAlive() bool {
	return s.alive.Load()
}

// Enqueue deposits an encoded frame for the delivery loop. Never
// blocks; see Mailbox for the overflow policy.
func (s *Session) Enqueue(msg []byte) {
	s.mbox.Put(msg)
}

// Mailbox exposes the outbound mailbox for delivery-side consumers.
func (s *Session) Mailbox() *Mailbox {
	return s.mbox
}

// Close marks the session dead and shuts the mailbox, letting the
// delivery loop drain what is already buffered and exit. Idempotent,
// callable from any goroutine including room logic.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		s.mbox.Close()
	})
}

// DeliverLoop writes mailbox messages and periodic pings to the
// connection until the context is canceled, the mailbox is closed, or
// a write fails. On exit it closes the session and the connection,
// which also unblocks the inbound dispatch loop.
func (s *Session) DeliverLoop(ctx context.Context) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		s.Close()
		s.closeConn()
		s.logger.Debug().Msg("delivery loop stopped")
	}()

SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop

		case <-pingTicker.C:
			wsErr := s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				s.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = s.conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				s.logger.Warn().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			s.logger.Trace().Msg("ping sent")

		case msg, ok := <-s.mbox.C():
			if !ok {
				break SendLoop
			}
			wsErr := s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				s.logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := s.conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				s.logger.Warn().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			_, wsErr = wsW.Write(msg)
			if wsErr != nil {
				s.logger.Warn().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			if wsErr = wsW.Close(); wsErr != nil {
				s.logger.Warn().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
}

func (s *Session) closeConn() {
	wsErr := s.conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr == nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	if wsErr = s.conn.Close(); wsErr != nil {
		s.logger.Debug().Err(wsErr).Msg("failed to close websocket connection")
	}
}
