// Package websocket is the player-facing front end: it upgrades
// connections, shepherds each one through matchmaking, and runs the
// in-match dispatch loop against the session's room.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/asmbattle/backend/backend/game"
	"github.com/asmbattle/backend/backend/metrics"
	"github.com/asmbattle/backend/backend/protocol"
	"github.com/asmbattle/backend/backend/session"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize   = 10000
	defaultWebsocketWriteBufferSize  = 10000
	defaultWebSocketMaxMessageSize   = 65536
	defaultWebSocketHandshakeTimeout = 3 * time.Second

	// defaultPongWait must exceed the session ping interval; it is how
	// long a silent client stays readable.
	defaultPongWait = 7 * time.Second

	defaultMatchmakingTimeout = 10 * time.Minute
)

var (
	ErrUnexpected = errors.New("unexpected server error")

	errMatchmakingTimeout = errors.New("no join or create within the matchmaking window")
)

type (
	Config struct {
		Logger             *zerolog.Logger
		Registry           *game.Registry
		Metrics            *metrics.Metrics
		ListenAddr         string
		MatchmakingTimeout time.Duration
	}

	Server struct {
		registry     *game.Registry
		mets         *metrics.Metrics
		ws           *websocket.Upgrader
		matchTimeout time.Duration
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	matchTimeout := cfg.MatchmakingTimeout
	if matchTimeout <= 0 {
		matchTimeout = defaultMatchmakingTimeout
	}
	srv := &Server{
		logger:       cfg.Logger.With().Str("component", "websocket-server").Logger(),
		registry:     cfg.Registry,
		mets:         cfg.Metrics,
		matchTimeout: matchTimeout,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.accept)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) accept(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	go srv.serveConn(r.Context(), conn)
}

// serveConn owns one connection end to end: delivery loop, matchmaking
// wait, then the in-match dispatch loop. Whichever loop exits first
// takes the whole session down with it.
func (srv *Server) serveConn(parent context.Context, conn *websocket.Conn) {
	sess := session.New(conn, &srv.logger)
	logger := srv.logger.With().Str("sessionID", sess.ID()).Logger()

	if srv.mets != nil {
		srv.mets.ActiveSessions.Inc()
		defer srv.mets.ActiveSessions.Dec()
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	defer cancel()

	deliveryDone := make(chan struct{})
	go func() {
		sess.DeliverLoop(ctx)
		close(deliveryDone)
	}()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(defaultPongWait)); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		sess.Close()
		cancel()
		<-deliveryDone
		return
	}

	room, err := srv.matchmake(sess, conn, &logger)
	if err != nil {
		if errors.Is(err, errMatchmakingTimeout) {
			logger.Info().Msg("matchmaking timed out")
		} else {
			logger.Debug().Err(err).Msg("connection ended before matchmaking")
		}
		sess.Close()
		cancel()
		<-deliveryDone
		return
	}
	logger = logger.With().Str("roomID", room.ID()).Logger()

	srv.dispatch(ctx, sess, room, conn, &logger)

	room.Detach(sess)
	sess.Close()
	cancel()
	<-deliveryDone
	logger.Debug().Msg("session ended")
}

// matchmake waits for the first valid join or create message and
// resolves it against the registry. Any other traffic gets an info
// reply and the wait continues. The timeout fires by closing the
// session, which shuts the connection and fails the pending read.
func (srv *Server) matchmake(sess *session.Session, conn *websocket.Conn, logger *zerolog.Logger) (*game.Room, error) {
	srv.registry.AddWaiting(sess)
	defer srv.registry.RemoveWaiting(sess.ID())

	var timedOut atomic.Bool
	timeout := time.AfterFunc(srv.matchTimeout, func() {
		timedOut.Store(true)
		sess.Enqueue(protocol.MustEncode(protocol.TypeInfo, protocol.Info{
			Message: "Matchmaking timed out",
		}))
		sess.Close()
	})
	defer timeout.Stop()

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if timedOut.Load() {
				return nil, errMatchmakingTimeout
			}
			return nil, err
		}

		kind := protocol.Classify(messageType, raw)
		if e := logger.Trace(); e.Enabled() {
			e.Str("kind", kind.String()).Msg(spew.Sdump(raw))
		}

		switch kind {
		case protocol.KindCreate:
			var create protocol.Create
			if err = protocol.Decode(raw, &create); err != nil {
				srv.infoReply(sess, "Malformed create message")
				continue
			}
			sess.SetName(create.Name)
			room := srv.registry.NewRoom()
			sess.Enqueue(protocol.MustEncode(protocol.TypeCreatedGame, protocol.CreatedGame{ID: room.ID()}))
			if _, err = room.Attach(sess); err != nil {
				// freshly created room cannot be full; closed means a
				// concurrent kill, let the client retry
				srv.infoReply(sess, "Room is unavailable, try again")
				continue
			}
			logger.Info().Str("roomID", room.ID()).Msg("room created by client")
			return room, nil

		case protocol.KindJoin:
			var join protocol.Join
			if err = protocol.Decode(raw, &join); err != nil || join.GameID == "" {
				srv.infoReply(sess, "Malformed join message")
				continue
			}
			sess.SetName(join.Name)
			room := srv.registry.Get(join.GameID)
			if _, err = room.Attach(sess); err != nil {
				sess.Enqueue(protocol.MustEncode(protocol.TypeJoinStatus, protocol.JoinStatus{Status: protocol.StatusFull}))
				logger.Debug().Str("roomID", join.GameID).Msg("join rejected, room full")
				continue
			}
			logger.Info().Str("roomID", room.ID()).Msg("joined room")
			return room, nil

		case protocol.KindSetName:
			var setName protocol.SetName
			if err = protocol.Decode(raw, &setName); err == nil {
				sess.SetName(setName.Name)
			}

		case protocol.KindClose:
			return nil, errors.New("client closed during matchmaking")

		default:
			srv.infoReply(sess, "Send a join or create message first")
		}
	}
}

// dispatch is the in-match read loop. It exits on read failure, which
// includes the connection being closed from the delivery side when the
// room shuts down.
func (srv *Server) dispatch(ctx context.Context, sess *session.Session, room *game.Room, conn *websocket.Conn, logger *zerolog.Logger) {
	for {
		// re-arm the read deadline: a long judge call keeps this
		// goroutine away from the connection for longer than pongWait
		if err := conn.SetReadDeadline(time.Now().Add(defaultPongWait)); err != nil {
			return
		}
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("connection closed")
			} else if sess.IsAlive() {
				logger.Warn().Err(err).Msg("unexpected error during receive")
			}
			return
		}

		kind := protocol.Classify(messageType, raw)
		if e := logger.Trace(); e.Enabled() {
			e.Str("kind", kind.String()).Msg(spew.Sdump(raw))
		}

		switch kind {
		case protocol.KindJoin, protocol.KindCreate:
			srv.infoReply(sess, "You're already in a game")

		case protocol.KindSetName:
			var setName protocol.SetName
			if err = protocol.Decode(raw, &setName); err == nil {
				sess.SetName(setName.Name)
			}

		case protocol.KindCodeEcho:
			var code protocol.Code
			if err = protocol.Decode(raw, &code); err != nil {
				srv.infoReply(sess, "Malformed code message")
				continue
			}
			if err = room.EchoCode(sess, code.Code); err != nil {
				srv.infoReply(sess, "Match is not running")
			}

		case protocol.KindCodeSubmit:
			var code protocol.Code
			if err = protocol.Decode(raw, &code); err != nil {
				srv.infoReply(sess, "Malformed submission")
				continue
			}
			if err = room.Submit(ctx, sess, code.Code); err != nil {
				srv.infoReply(sess, "Match is not running")
			}

		case protocol.KindClose:
			return

		default:
			srv.infoReply(sess, "Unsupported message type")
		}
	}
}

func (srv *Server) infoReply(sess *session.Session, message string) {
	sess.Enqueue(protocol.MustEncode(protocol.TypeInfo, protocol.Info{Message: message}))
}
