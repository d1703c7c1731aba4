package game

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asmbattle/backend/backend/judge"
	"github.com/asmbattle/backend/backend/metrics"
	"github.com/asmbattle/backend/backend/problems"
	"github.com/asmbattle/backend/backend/session"
)

// Registry indexes rooms by id and keeps the lobby bookkeeping for
// sessions still waiting on a join/create decision. Its mutex guards
// only the maps; room methods are never called while holding it, so
// room disposal callbacks can safely re-enter the registry.
type Registry struct {
	logger    zerolog.Logger
	judge     judge.Judge
	catalogue []problems.Problem
	nextDelay time.Duration
	mets      *metrics.Metrics

	mx      sync.Mutex
	rooms   map[string]*Room
	waiting map[string]*session.Session
}

type RegistryConfig struct {
	Judge            judge.Judge
	Catalogue        []problems.Problem
	Logger           *zerolog.Logger
	NextProblemDelay time.Duration
	Metrics          *metrics.Metrics
}

func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		logger:    cfg.Logger.With().Str("component", "registry").Logger(),
		judge:     cfg.Judge,
		catalogue: cfg.Catalogue,
		nextDelay: cfg.NextProblemDelay,
		mets:      cfg.Metrics,
		rooms:     make(map[string]*Room),
		waiting:   make(map[string]*session.Session),
	}
}

// Get returns the room for id, creating an empty one on first
// reference. Idempotent for a given id until the room is disposed.
func (reg *Registry) Get(id string) *Room {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}
	return reg.newRoomLocked(id)
}

// NewRoom creates a room under a freshly generated id.
func (reg *Registry) NewRoom() *Room {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	for {
		id := shortID()
		if _, taken := reg.rooms[id]; !taken {
			return reg.newRoomLocked(id)
		}
	}
}

func (reg *Registry) newRoomLocked(id string) *Room {
	room := NewRoom(RoomConfig{
		ID:               id,
		Judge:            reg.judge,
		Deck:             problems.NewDeck(reg.catalogue),
		Logger:           &reg.logger,
		NextProblemDelay: reg.nextDelay,
		Metrics:          reg.mets,
		OnDispose: func() {
			reg.drop(id)
		},
	})
	reg.rooms[id] = room
	reg.updateGaugeLocked()
	reg.logger.Debug().Str("roomID", id).Msg("room created")
	return room
}

// drop unindexes a disposed room. Safe to call from a room's own
// dispose callback.
func (reg *Registry) drop(id string) {
	reg.mx.Lock()
	defer reg.mx.Unlock()

	if _, ok := reg.rooms[id]; !ok {
		return
	}
	delete(reg.rooms, id)
	reg.updateGaugeLocked()
	reg.logger.Debug().Str("roomID", id).Msg("room dropped")
}

// Kill force-closes a room and removes it from the index.
func (reg *Registry) Kill(room *Room) {
	reg.mx.Lock()
	delete(reg.rooms, room.ID())
	reg.updateGaugeLocked()
	reg.mx.Unlock()

	room.ForceClose()
}

func (reg *Registry) RoomCount() int {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	return len(reg.rooms)
}

// Snapshot lists every indexed room for the ops endpoint.
func (reg *Registry) Snapshot() []Snapshot {
	reg.mx.Lock()
	roomsCopy := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		roomsCopy = append(roomsCopy, room)
	}
	reg.mx.Unlock()

	snaps := make([]Snapshot, 0, len(roomsCopy))
	for _, room := range roomsCopy {
		snaps = append(snaps, room.SnapshotState())
	}
	return snaps
}

// AddWaiting registers a session as stuck in the pre-match wait so the
// janitor can drop it if its connection dies.
func (reg *Registry) AddWaiting(s *session.Session) {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	reg.waiting[s.ID()] = s
}

func (reg *Registry) RemoveWaiting(id string) {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	delete(reg.waiting, id)
}

func (reg *Registry) WaitingCount() int {
	reg.mx.Lock()
	defer reg.mx.Unlock()
	return len(reg.waiting)
}

// SweepWaiting drops waiting sessions whose connection went dead.
// Returns how many were dropped.
func (reg *Registry) SweepWaiting() int {
	reg.mx.Lock()
	var dead []*session.Session
	for id, s := range reg.waiting {
		if !s.IsAlive() {
			dead = append(dead, s)
			delete(reg.waiting, id)
		}
	}
	reg.mx.Unlock()

	for _, s := range dead {
		s.Close()
		reg.logger.Debug().Str("sessionID", s.ID()).Msg("dropped dead waiting session")
	}
	return len(dead)
}

// SweepRooms kills every room whose sessions are all dead. Returns how
// many rooms were killed.
func (reg *Registry) SweepRooms() int {
	reg.mx.Lock()
	roomsCopy := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		roomsCopy = append(roomsCopy, room)
	}
	reg.mx.Unlock()

	var killed int
	for _, room := range roomsCopy {
		if room.AllSessionsDead() {
			reg.Kill(room)
			killed++
			reg.logger.Info().Str("roomID", room.ID()).Msg("swept dead room")
		}
	}
	return killed
}

func (reg *Registry) updateGaugeLocked() {
	if reg.mets != nil {
		reg.mets.OpenRooms.Set(float64(len(reg.rooms)))
	}
}

// shortID derives an 8-character room id from a UUID, short enough to
// share out-of-band.
func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}
