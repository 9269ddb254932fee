package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/pongrelay/game/matchmaking"
	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/session"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

type published struct {
	group string
	event service.Event
}

// recordingBus implements service.Broadcaster for testing
type recordingBus struct {
	mu     sync.Mutex
	events []published
	absent map[string]bool
}

func newRecordingBus() *recordingBus {
	return &recordingBus{absent: make(map[string]bool)}
}

func (b *recordingBus) Publish(_ context.Context, group string, ev service.Event) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{group: group, event: ev})
	if b.absent[group] {
		return 0, nil
	}
	return 1, nil
}

func (b *recordingBus) to(group string) []service.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []service.Event
	for _, p := range b.events {
		if p.group == group {
			out = append(out, p.event)
		}
	}
	return out
}

func (b *recordingBus) ofType(t service.EventType) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.events {
		if p.event.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// failingStore fails every Create
type failingStore struct {
	*session.MemoryStore
}

func (failingStore) Create(context.Context, string, map[string]string) error {
	return errors.New("store unavailable")
}

type fixture struct {
	svc   *service.Service
	store *session.MemoryStore
	queue *matchmaking.MemoryQueue
	bus   *recordingBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &fixture{
		store: session.NewMemoryStore(),
		queue: matchmaking.NewMemoryQueue(),
		bus:   newRecordingBus(),
	}
	n := 0
	f.svc = service.NewService(f.store, f.queue, f.bus, state.DefaultArena(),
		service.WithLogger(log),
		service.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("game-%d", n)
		}),
	)
	return f
}

// pair matches A then B and returns the match
func (f *fixture) pair(t *testing.T, a, b string) *service.Match {
	t.Helper()
	ctx := context.Background()
	m, err := f.svc.FindMatch(ctx, a)
	require.NoError(t, err)
	require.Nil(t, m)
	m, err = f.svc.FindMatch(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func TestFindMatch(t *testing.T) {
	ctx := context.Background()

	t.Run("first client searches", func(t *testing.T) {
		f := newFixture(t)
		m, err := f.svc.FindMatch(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, m)

		events := f.bus.to("player_A")
		require.Len(t, events, 1)
		assert.Equal(t, service.EventSearching, events[0].Type)
	})

	t.Run("second client pairs both", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		assert.Equal(t, "game-1", m.GameID)
		assert.Equal(t, "B", m.Left)
		assert.Equal(t, "A", m.Right)

		matchedA := f.bus.to("player_A")[1]
		matchedB := f.bus.to("player_B")[0]
		assert.Equal(t, service.EventMatched, matchedA.Type)
		assert.Equal(t, service.EventMatched, matchedB.Type)
		assert.Equal(t, matchedA.GameID, matchedB.GameID)
		assert.Equal(t, state.RoleRight, matchedA.Role)
		assert.Equal(t, state.RoleLeft, matchedB.Role)
		assert.Equal(t, "450", matchedA.State[state.FieldBallX])
		assert.Equal(t, "left", matchedB.State["player:B:role"])

		assert.Len(t, f.bus.ofType(service.EventMatched), 2)

		stored, err := f.store.Get(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, state.StatusActive, state.StatusOf(stored))

		n, _ := f.queue.Len(ctx)
		assert.Zero(t, n)
	})

	t.Run("pairs in arrival order", func(t *testing.T) {
		f := newFixture(t)
		first := f.pair(t, "A", "B")
		second := f.pair(t, "C", "D")

		assert.ElementsMatch(t, []string{"A", "B"}, []string{first.Left, first.Right})
		assert.ElementsMatch(t, []string{"C", "D"}, []string{second.Left, second.Right})
		assert.NotEqual(t, first.GameID, second.GameID)
	})

	t.Run("interleaved pairing still notifies the pair", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.queue.Enqueue(ctx, "A"))
		require.NoError(t, f.queue.Enqueue(ctx, "B"))

		m, err := f.svc.FindMatch(ctx, "C")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "B", m.Left)
		assert.Equal(t, "A", m.Right)

		events := f.bus.to("player_C")
		require.Len(t, events, 1)
		assert.Equal(t, service.EventSearching, events[0].Type)

		waiting, _ := f.queue.List(ctx)
		assert.Equal(t, []string{"C"}, waiting)
	})

	t.Run("requesting client plays left", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.queue.Enqueue(ctx, "A"))
		require.NoError(t, f.queue.Enqueue(ctx, "B"))

		m, err := f.svc.FindMatch(ctx, "A")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "A", m.Left)
		assert.Equal(t, "B", m.Right)

		stored, _ := f.store.Get(ctx, m.GameID)
		assert.Equal(t, "110", stored["player:A:x"])
		assert.Equal(t, "790", stored["player:B:x"])
		assert.Empty(t, f.bus.to("player_C"))
	})

	t.Run("store failure restores the pair", func(t *testing.T) {
		f := newFixture(t)
		svc := service.NewService(failingStore{f.store}, f.queue, f.bus, state.DefaultArena())

		_, err := svc.FindMatch(ctx, "A")
		require.NoError(t, err)
		_, err = svc.FindMatch(ctx, "B")
		require.Error(t, err)

		waiting, _ := f.queue.List(ctx)
		assert.Equal(t, []string{"A", "B"}, waiting)
		assert.Empty(t, f.bus.ofType(service.EventMatched))
	})

	t.Run("gone partner is reported", func(t *testing.T) {
		f := newFixture(t)
		f.bus.absent["player_A"] = true
		m := f.pair(t, "A", "B")

		left := f.bus.to("player_B")
		require.Len(t, left, 2)
		assert.Equal(t, service.EventPlayerLeft, left[1].Type)
		assert.Equal(t, "A", left[1].ClientID)

		stored, _ := f.store.Get(ctx, m.GameID)
		assert.Equal(t, state.StatusDegraded, state.StatusOf(stored))

		_, bound := f.svc.Binding("A")
		assert.False(t, bound)
	})
}

func TestBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("both participants bound at pairing", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		a, ok := f.svc.Binding("A")
		require.True(t, ok)
		assert.Equal(t, service.Binding{GameID: m.GameID, Role: state.RoleRight}, a)

		b, ok := f.svc.Binding("B")
		require.True(t, ok)
		assert.Equal(t, service.Binding{GameID: m.GameID, Role: state.RoleLeft}, b)

		_, ok = f.svc.Binding("C")
		assert.False(t, ok)
	})

	t.Run("repeated find_game before matched is handled", func(t *testing.T) {
		f := newFixture(t)
		first := f.pair(t, "A", "B")

		_, err := f.svc.FindMatch(ctx, "C")
		require.NoError(t, err)

		m, err := f.svc.FindMatch(ctx, "A")
		assert.ErrorIs(t, err, service.ErrAlreadyBound)
		assert.Nil(t, m)

		waiting, _ := f.queue.List(ctx)
		assert.Equal(t, []string{"C"}, waiting)

		next, err := f.svc.FindMatch(ctx, "D")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.ElementsMatch(t, []string{"C", "D"}, []string{next.Left, next.Right})

		ids, _ := f.svc.ListSessions(ctx)
		assert.Len(t, ids, 2)

		sessionsWithA := 0
		for _, id := range ids {
			info, err := f.svc.GetSession(ctx, id)
			require.NoError(t, err)
			if _, ok := info.State.Players["A"]; ok {
				sessionsWithA++
				assert.Equal(t, first.GameID, id)
			}
		}
		assert.Equal(t, 1, sessionsWithA)
	})

	t.Run("leave releases the binding", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		_, err := f.svc.Leave(ctx, "A", m.GameID)
		require.NoError(t, err)

		_, bound := f.svc.Binding("A")
		assert.False(t, bound)
		_, bound = f.svc.Binding("B")
		assert.True(t, bound)

		m2, err := f.svc.FindMatch(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, m2)
		waiting, _ := f.queue.List(ctx)
		assert.Equal(t, []string{"A"}, waiting)
	})

	t.Run("disconnect resolves the bound session", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		require.NoError(t, f.svc.Disconnect(ctx, "A"))

		left := f.bus.ofType(service.EventPlayerLeft)
		require.Len(t, left, 1)
		assert.Equal(t, service.GameGroup(m.GameID), left[0].group)
		assert.Equal(t, "A", left[0].event.ClientID)

		stored, _ := f.store.Get(ctx, m.GameID)
		assert.Equal(t, state.Disconnected, stored[state.PlayerField("A", state.AttrConnected)])

		_, bound := f.svc.Binding("A")
		assert.False(t, bound)
	})

	t.Run("expired session releases its players", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")
		require.NoError(t, f.store.Delete(ctx, m.GameID))

		got, err := f.svc.FindMatch(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, got)

		waiting, _ := f.queue.List(ctx)
		assert.Equal(t, []string{"A"}, waiting)
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("stores sender fields and echoes to both", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		payload := json.RawMessage(`{"player_id":"B","pos":{"x":12,"y":34},"vx":1,"ball":{"x":5,"y":6,"vx":7,"vy":8}}`)
		require.NoError(t, f.svc.Update(ctx, "A", m.GameID, payload))

		stored, _ := f.store.Get(ctx, m.GameID)
		assert.Equal(t, "12", stored["player:A:x"])
		assert.Equal(t, "34", stored["player:A:y"])
		assert.Equal(t, "1", stored["player:A:vx"])
		assert.Equal(t, "110", stored["player:B:x"], "player_id must not redirect the write")
		assert.Equal(t, "5", stored[state.FieldBallX])
		assert.Equal(t, "8", stored[state.FieldBallVY])

		updates := f.bus.to(service.GameGroup(m.GameID))
		require.Len(t, updates, 1)
		assert.Equal(t, service.EventUpdate, updates[0].Type)
		assert.Equal(t, "A", updates[0].From)
		assert.JSONEq(t, string(payload), string(updates[0].Payload))
	})

	t.Run("unbound is a no-op", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Update(ctx, "A", "", json.RawMessage(`{"pos":{"x":1,"y":1}}`)))
		assert.Empty(t, f.bus.events)
	})

	t.Run("malformed payload", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")
		err := f.svc.Update(ctx, "A", m.GameID, json.RawMessage(`{"pos":"left"}`))
		assert.ErrorIs(t, err, service.ErrMalformedPayload)
		assert.Empty(t, f.bus.to(service.GameGroup(m.GameID)))
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.Update(ctx, "A", "gone", json.RawMessage(`{"vx":1}`)))
		assert.Empty(t, f.bus.events)
	})
}

func TestScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.pair(t, "A", "B")

	require.NoError(t, f.svc.Score(ctx, "B", m.GameID, json.RawMessage(`{"left":3}`)))

	stored, _ := f.store.Get(ctx, m.GameID)
	assert.Equal(t, "3", stored[state.FieldScoreLeft])
	assert.Equal(t, "0", stored[state.FieldScoreRight])

	events := f.bus.to(service.GameGroup(m.GameID))
	require.Len(t, events, 1)
	assert.Equal(t, service.EventScoreUpdate, events[0].Type)
	assert.Equal(t, "B", events[0].From)
	assert.JSONEq(t, `{"left":3}`, string(events[0].Payload))
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.pair(t, "A", "B")

	require.NoError(t, f.svc.Chat(ctx, "A", m.GameID, json.RawMessage(`{"player_id":"someone","message":"gg"}`)))

	events := f.bus.to(service.GameGroup(m.GameID))
	require.Len(t, events, 1)
	assert.Equal(t, service.EventChat, events[0].Type)
	assert.JSONEq(t, `{"player_id":"A","message":"gg"}`, string(events[0].Payload))

	stored, _ := f.store.Get(ctx, m.GameID)
	for k := range stored {
		assert.NotContains(t, k, "message")
	}
}

func TestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("leave then disconnect yields one player_left", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		changed, err := f.svc.Leave(ctx, "A", m.GameID)
		require.NoError(t, err)
		assert.True(t, changed)

		require.NoError(t, f.svc.Disconnect(ctx, "A"))

		left := f.bus.ofType(service.EventPlayerLeft)
		require.Len(t, left, 1)
		assert.Equal(t, service.GameGroup(m.GameID), left[0].group)
		assert.Equal(t, "A", left[0].event.ClientID)

		info, err := f.svc.GetSession(ctx, m.GameID)
		require.NoError(t, err)
		assert.Equal(t, state.StatusDegraded, info.Status)
		assert.False(t, info.State.Players["A"].Connected)
		assert.True(t, info.State.Players["B"].Connected)
	})

	t.Run("both leaving ends the session", func(t *testing.T) {
		f := newFixture(t)
		m := f.pair(t, "A", "B")

		require.NoError(t, f.svc.Disconnect(ctx, "A"))
		require.NoError(t, f.svc.Disconnect(ctx, "B"))

		info, err := f.svc.GetSession(ctx, m.GameID)
		require.NoError(t, err)
		assert.Equal(t, state.StatusEnded, info.Status)
		assert.Len(t, f.bus.ofType(service.EventPlayerLeft), 2)
	})

	t.Run("unbound leave is a no-op", func(t *testing.T) {
		f := newFixture(t)
		changed, err := f.svc.Leave(ctx, "A", "")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Empty(t, f.bus.events)
	})

	t.Run("disconnect removes a waiting client", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.FindMatch(ctx, "A")
		require.NoError(t, err)

		require.NoError(t, f.svc.Disconnect(ctx, "A"))

		waiting, _ := f.svc.WaitingClients(ctx)
		assert.Empty(t, waiting)
	})
}

func TestInspection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pair(t, "A", "B")
	_, err := f.svc.FindMatch(ctx, "C")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &service.Stats{Waiting: 1, Sessions: 1}, stats)

	ids, err := f.svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"game-1"}, ids)

	_, err = f.svc.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestConcurrentFindMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var idMu sync.Mutex
	n := 0
	svc := service.NewService(f.store, f.queue, f.bus, state.DefaultArena(),
		service.WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			n++
			return fmt.Sprintf("g%d", n)
		}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.FindMatch(ctx, fmt.Sprintf("c%02d", i)); err != nil {
				t.Errorf("find match: %v", err)
			}
		}(i)
	}
	wg.Wait()

	matched := f.bus.ofType(service.EventMatched)
	seen := make(map[string]int)
	for _, p := range matched {
		seen[p.group]++
	}
	for group, count := range seen {
		assert.Equal(t, 1, count, "%s matched %d times", group, count)
	}
	assert.Len(t, seen, 50)
}
