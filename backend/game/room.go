// Package game contains the battle core: the two-player room state
// machine, the registry that indexes rooms by id, and the janitor that
// sweeps dead rooms and stale waiters.
package game

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/asmbattle/backend/backend/judge"
	"github.com/asmbattle/backend/backend/metrics"
	"github.com/asmbattle/backend/backend/problems"
	"github.com/asmbattle/backend/backend/protocol"
	"github.com/asmbattle/backend/backend/session"
)

const (
	maxPlayers = 2

	defaultNextProblemDelay = 1500 * time.Millisecond
)

var (
	ErrRoomFull  = errors.New("room is full")
	ErrNotActive = errors.New("match is not active")
	ErrNotMember = errors.New("session is not a member of this room")
)

// State is the room's match state. It only moves forward:
// waiting → ready → active → closed. Ready is transient; attaching the
// second player advances straight through it into active.
type State string

const (
	StateWaiting State = "waiting"
	StateReady   State = "ready"
	StateActive  State = "active"
	StateClosed  State = "closed"
)

// Room pairs up to two sessions over one problem at a time. All state
// transitions happen under one mutex; the only long-running operation,
// the judge call, runs outside it and its verdict is re-validated
// against the state once the lock is re-taken.
type Room struct {
	id        string
	logger    zerolog.Logger
	judge     judge.Judge
	deck      *problems.Deck
	nextDelay time.Duration
	mets      *metrics.Metrics

	mx         sync.Mutex
	state      State
	members    []*session.Session
	current    problems.Problem
	hasProblem bool

	disposeOnce sync.Once
	onDispose   func()
}

type RoomConfig struct {
	ID     string
	Judge  judge.Judge
	Deck   *problems.Deck
	Logger *zerolog.Logger
	// OnDispose fires exactly once when the room closes.
	OnDispose func()
	// NextProblemDelay is the pause between a correct verdict and the
	// next problem broadcast. Zero means the default 1.5s.
	NextProblemDelay time.Duration
	Metrics          *metrics.Metrics
}

func NewRoom(cfg RoomConfig) *Room {
	delay := cfg.NextProblemDelay
	if delay <= 0 {
		delay = defaultNextProblemDelay
	}
	return &Room{
		id:        cfg.ID,
		logger:    cfg.Logger.With().Str("component", "room").Str("roomID", cfg.ID).Logger(),
		judge:     cfg.Judge,
		deck:      cfg.Deck,
		nextDelay: delay,
		mets:      cfg.Metrics,
		state:     StateWaiting,
		onDispose: cfg.OnDispose,
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

// Attach adds a session to the room. Only allowed while waiting; the
// second attach starts the match. Returns whether the match started.
func (r *Room) Attach(s *session.Session) (bool, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state != StateWaiting || len(r.members) >= maxPlayers {
		return false, ErrRoomFull
	}
	r.members = append(r.members, s)

	if len(r.members) < maxPlayers {
		s.Enqueue(protocol.MustEncode(protocol.TypeJoinStatus, protocol.JoinStatus{Status: protocol.StatusWaiting}))
		return false, nil
	}

	r.state = StateReady
	s.Enqueue(protocol.MustEncode(protocol.TypeJoinStatus, protocol.JoinStatus{Status: protocol.StatusStarted}))
	r.startMatchLocked()
	return true, nil
}

// startMatchLocked advances ready → active: deals health, draws the
// first problem, and tells each player about the other.
func (r *Room) startMatchLocked() {
	r.state = StateActive

	for _, m := range r.members {
		m.ResetHealth()
	}
	if p, err := r.deck.Draw(); err == nil {
		r.current, r.hasProblem = p, true
	} else {
		r.logger.Warn().Err(err).Msg("starting match without a problem")
	}

	for _, m := range r.members {
		m.Enqueue(protocol.MustEncode(protocol.TypeStarting, struct{}{}))
		if r.hasProblem {
			m.Enqueue(protocol.MustEncode(protocol.TypeProblem, protocol.Problem{
				Description: r.current.Description,
				StarterCode: r.current.StarterCode,
			}))
			m.Enqueue(protocol.MustEncode(protocol.TypeOpponentCode, protocol.OpponentCode{Code: r.current.StarterCode}))
		}
		for _, other := range r.members {
			if other == m {
				continue
			}
			m.Enqueue(protocol.MustEncode(protocol.TypeOppInfo, protocol.OppInfo{
				Name:     other.Name(),
				Language: protocol.Language,
				Health:   other.Health(),
			}))
		}
	}

	if r.mets != nil {
		r.mets.MatchesStarted.Inc()
	}
	r.logger.Info().Msg("match started")
}

// EchoCode relays a player's in-progress code to the opponent.
// Best-effort traffic, only meaningful while the match is active.
func (r *Room) EchoCode(from *session.Session, code string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state != StateActive {
		return ErrNotActive
	}
	if !r.isMemberLocked(from) {
		return ErrNotMember
	}
	msg := protocol.MustEncode(protocol.TypeOpponentCode, protocol.OpponentCode{Code: code})
	for _, m := range r.members {
		if m != from {
			m.Enqueue(msg)
		}
	}
	return nil
}

// Submit judges a player's program against the current problem. The
// judge runs outside the room lock; the verdict is applied only if the
// match is still active once the lock is re-taken, which is also the
// tie-break: the first verdict to commit ends the match and a racing
// one gets ErrNotActive.
func (r *Room) Submit(ctx context.Context, from *session.Session, code string) error {
	r.mx.Lock()
	if r.state != StateActive {
		r.mx.Unlock()
		return ErrNotActive
	}
	if !r.isMemberLocked(from) {
		r.mx.Unlock()
		return ErrNotMember
	}
	if !r.hasProblem {
		from.Enqueue(protocol.MustEncode(protocol.TypeResult, protocol.Result{
			Success: false,
			Message: "No problem is currently set",
		}))
		r.mx.Unlock()
		return nil
	}
	expected := strings.TrimRight(r.current.Expected, " \t\r\n")
	r.mx.Unlock()

	output, judgeErr := r.judge.Execute(ctx, code)

	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state != StateActive {
		return ErrNotActive
	}

	if judgeErr != nil {
		if r.mets != nil {
			r.mets.Submissions.WithLabelValues(metrics.VerdictError).Inc()
		}
		from.Enqueue(protocol.MustEncode(protocol.TypeResult, protocol.Result{
			Success: false,
			Message: "Execution error: " + judgeErr.Error(),
		}))
		return nil
	}

	success := strings.TrimRight(output, " \t\r\n") == expected

	if success {
		for _, m := range r.members {
			if m == from {
				continue
			}
			newHealth := m.DecrementHealth()
			m.Enqueue(protocol.MustEncode(protocol.TypeHealthUpdate, protocol.HealthUpdate{NewHealth: newHealth}))
		}
	}

	for _, m := range r.members {
		if m == from {
			continue
		}
		m.Enqueue(protocol.MustEncode(protocol.TypeOppInfo, protocol.OppInfo{
			Name:     from.Name(),
			Language: protocol.Language,
			Health:   from.Health(),
			Console:  output,
		}))
	}

	verdict := metrics.VerdictIncorrect
	resultMsg := "Incorrect Answer\nOutput: " + output
	if success {
		verdict = metrics.VerdictCorrect
		resultMsg = "Correct Answer\nOutput: " + output
	}
	if r.mets != nil {
		r.mets.Submissions.WithLabelValues(verdict).Inc()
	}
	from.Enqueue(protocol.MustEncode(protocol.TypeResult, protocol.Result{
		Success: success,
		Message: resultMsg,
	}))

	if !success {
		return nil
	}

	if r.eliminatedLocked() {
		r.finishLocked(from.Name())
		return nil
	}

	time.AfterFunc(r.nextDelay, r.rotateProblem)
	return nil
}

func (r *Room) eliminatedLocked() bool {
	for _, m := range r.members {
		if m.Health() == 0 {
			return true
		}
	}
	return false
}

// finishLocked ends the match with a winner and closes the room.
func (r *Room) finishLocked(winner string) {
	msg := protocol.MustEncode(protocol.TypeGameOver, protocol.GameOver{Winner: winner})
	for _, m := range r.members {
		m.Enqueue(msg)
	}
	if r.mets != nil {
		r.mets.MatchesFinished.Inc()
	}
	r.logger.Info().Str("winner", winner).Msg("game over")
	r.closeLocked()
}

// rotateProblem draws and broadcasts the next problem, a beat after a
// correct submission.
func (r *Room) rotateProblem() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state != StateActive {
		return
	}
	p, err := r.deck.Draw()
	if err != nil {
		r.logger.Warn().Err(err).Msg("no problem to rotate to")
		return
	}
	r.current, r.hasProblem = p, true
	msg := protocol.MustEncode(protocol.TypeProblem, protocol.Problem{
		Description: p.Description,
		StarterCode: p.StarterCode,
	})
	for _, m := range r.members {
		m.Enqueue(msg)
	}
}

// Detach removes a session from the room. Called from the departed
// session's dispatch-loop exit path, so it never depends on that
// session's own loops still running. An empty room closes itself.
func (r *Room) Detach(s *session.Session) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state == StateClosed {
		return
	}
	kept := r.members[:0]
	for _, m := range r.members {
		if m != s {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(r.members) {
		return
	}
	r.members = kept

	if len(r.members) == 0 {
		r.closeLocked()
		return
	}
	notice := protocol.MustEncode(protocol.TypeInfo, protocol.Info{Message: "Your opponent disconnected"})
	for _, m := range r.members {
		m.Enqueue(notice)
	}
}

// ForceClose tears the room down regardless of state. Used by the
// janitor and explicit kills.
func (r *Room) ForceClose() {
	r.mx.Lock()
	defer r.mx.Unlock()

	if r.state == StateClosed {
		return
	}
	notice := protocol.MustEncode(protocol.TypeInfo, protocol.Info{Message: "Room closed by server"})
	for _, m := range r.members {
		m.Enqueue(notice)
	}
	r.closeLocked()
}

// closeLocked is the single terminal transition. Closing each member's
// session shuts its mailbox, so both of its loops observe termination
// without any help from the departed peer.
func (r *Room) closeLocked() {
	r.state = StateClosed
	for _, m := range r.members {
		m.Close()
	}
	r.members = nil
	r.disposeOnce.Do(func() {
		if r.onDispose != nil {
			r.onDispose()
		}
	})
	r.logger.Debug().Msg("room closed")
}

func (r *Room) isMemberLocked(s *session.Session) bool {
	for _, m := range r.members {
		if m == s {
			return true
		}
	}
	return false
}

// PlayerCount reports current membership size.
func (r *Room) PlayerCount() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.members)
}

// AllSessionsDead reports whether the room has members and every one
// of them has a dead connection. Such rooms are janitor fodder.
func (r *Room) AllSessionsDead() bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	if len(r.members) == 0 {
		return false
	}
	for _, m := range r.members {
		if m.IsAlive() {
			return false
		}
	}
	return true
}

// Snapshot is an ops-endpoint view of the room.
type Snapshot struct {
	ID      string   `json:"room_id"`
	State   State    `json:"state"`
	Players []string `json:"players"`
}

func (r *Room) SnapshotState() Snapshot {
	r.mx.Lock()
	defer r.mx.Unlock()

	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.Name())
	}
	return Snapshot{ID: r.id, State: r.state, Players: names}
}
