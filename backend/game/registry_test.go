package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asmbattle/backend/backend/game"
	"github.com/asmbattle/backend/backend/problems"
)

func newTestRegistry(t *testing.T) *game.Registry {
	t.Helper()
	all, err := problems.Load([]byte(testProblemsYAML))
	require.NoError(t, err)

	logger := zerolog.Nop()
	return game.NewRegistry(game.RegistryConfig{
		Judge:            echoJudge,
		Catalogue:        all,
		Logger:           &logger,
		NextProblemDelay: 20 * time.Millisecond,
	})
}

func TestRegistry_GetIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)

	r1 := reg.Get("battle-1")
	r2 := reg.Get("battle-1")
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, reg.RoomCount())
}

func TestRegistry_NewRoomGeneratesUniqueIDs(t *testing.T) {
	reg := newTestRegistry(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		room := reg.NewRoom()
		require.NotEmpty(t, room.ID())
		assert.False(t, seen[room.ID()], "duplicate room id %s", room.ID())
		seen[room.ID()] = true
	}
	assert.Equal(t, 50, reg.RoomCount())
}

func TestRegistry_KillRemovesAndCloses(t *testing.T) {
	reg := newTestRegistry(t)
	room := reg.Get("doomed")

	reg.Kill(room)
	assert.Equal(t, game.StateClosed, room.State())
	assert.Equal(t, 0, reg.RoomCount())

	// a later get under the same id is a fresh room
	assert.NotSame(t, room, reg.Get("doomed"))
}

func TestRegistry_DisposalUnindexesRoom(t *testing.T) {
	reg := newTestRegistry(t)
	room := reg.Get("transient")

	a := newPlayer(t, "alice")
	_, err := room.Attach(a)
	require.NoError(t, err)

	// last player leaving closes the room, which must self-unindex
	room.Detach(a)
	assert.Equal(t, game.StateClosed, room.State())
	assert.Equal(t, 0, reg.RoomCount())
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	reg := newTestRegistry(t)

	var wg sync.WaitGroup
	rooms := make([]*game.Room, 16)
	for i := range rooms {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rooms[n] = reg.Get("shared")
		}(i)
	}
	wg.Wait()

	for _, room := range rooms[1:] {
		assert.Same(t, rooms[0], room)
	}
	assert.Equal(t, 1, reg.RoomCount())
}

func TestRegistry_SweepRooms(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.Get("graveyard")
	a, b := newPlayer(t, "alice"), newPlayer(t, "bob")
	_, err := room.Attach(a)
	require.NoError(t, err)
	_, err = room.Attach(b)
	require.NoError(t, err)

	live := reg.Get("lively")
	c := newPlayer(t, "carol")
	_, err = live.Attach(c)
	require.NoError(t, err)

	// nothing dead yet
	assert.Equal(t, 0, reg.SweepRooms())

	a.Close()
	b.Close()
	assert.Equal(t, 1, reg.SweepRooms())
	assert.Equal(t, game.StateClosed, room.State())
	assert.Equal(t, 1, reg.RoomCount())
	assert.Equal(t, game.StateWaiting, live.State(), "room with a live session survives the sweep")
}

func TestRegistry_SweepWaiting(t *testing.T) {
	reg := newTestRegistry(t)

	alive := newPlayer(t, "alive")
	dead := newPlayer(t, "dead")
	reg.AddWaiting(alive)
	reg.AddWaiting(dead)
	dead.Close()

	assert.Equal(t, 1, reg.SweepWaiting())
	assert.Equal(t, 1, reg.WaitingCount())

	reg.RemoveWaiting(alive.ID())
	assert.Equal(t, 0, reg.WaitingCount())
}

func TestJanitor_SweepsOnInterval(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.Get("stale")
	a, b := newPlayer(t, "alice"), newPlayer(t, "bob")
	_, err := room.Attach(a)
	require.NoError(t, err)
	_, err = room.Attach(b)
	require.NoError(t, err)
	a.Close()
	b.Close()

	logger := zerolog.Nop()
	j := game.NewJanitor(game.JanitorConfig{
		Registry: reg,
		Interval: 10 * time.Millisecond,
		Retry:    5 * time.Millisecond,
		Logger:   &logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go j.Run(ctx, &wg)

	require.Eventually(t, func() bool {
		return reg.RoomCount() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, game.StateClosed, room.State())
}
