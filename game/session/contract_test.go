package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

// testStoreContract runs the behaviour every Store must share
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		initial := state.Initial(state.DefaultArena(), "left-id", "right-id")

		if err := store.Create(ctx, "g1", initial); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		got, err := store.Get(ctx, "g1")
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if len(got) != len(initial) {
			t.Errorf("Expected %d fields, got %d", len(initial), len(got))
		}
		for k, v := range initial {
			if got[k] != v {
				t.Errorf("Field %s: expected %q, got %q", k, v, got[k])
			}
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		store := newStore(t)
		fields := state.Initial(state.DefaultArena(), "a", "b")
		if err := store.Create(ctx, "dup", fields); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if err := store.Create(ctx, "dup", fields); !errors.Is(err, ErrSessionAlreadyExists) {
			t.Errorf("Expected ErrSessionAlreadyExists, got %v", err)
		}
	})

	t.Run("empty id", func(t *testing.T) {
		store := newStore(t)
		err := store.Create(ctx, "", state.Initial(state.DefaultArena(), "a", "b"))
		if !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Expected ErrInvalidSessionID, got %v", err)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("partial merge leaves other fields", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, "g", state.Initial(state.DefaultArena(), "a", "b")); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		if err := store.Merge(ctx, "g", map[string]string{state.FieldScoreLeft: "3"}); err != nil {
			t.Fatalf("Failed to merge: %v", err)
		}

		got, _ := store.Get(ctx, "g")
		if got[state.FieldScoreLeft] != "3" {
			t.Errorf("Expected score_left 3, got %q", got[state.FieldScoreLeft])
		}
		if got[state.FieldScoreRight] != "0" {
			t.Errorf("Expected score_right untouched, got %q", got[state.FieldScoreRight])
		}
		if got[state.FieldBallX] != "450" {
			t.Errorf("Expected ball_x untouched, got %q", got[state.FieldBallX])
		}
	})

	t.Run("merge unknown", func(t *testing.T) {
		store := newStore(t)
		err := store.Merge(ctx, "missing", map[string]string{state.FieldBallX: "1"})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Error("Merge must not create a record")
		}
	})

	t.Run("disconnect is monotonic", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, "g", state.Initial(state.DefaultArena(), "a", "b")); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		changed, err := store.MarkDisconnected(ctx, "g", "a")
		if err != nil || !changed {
			t.Fatalf("Expected first disconnect to change the flag, got %v %v", changed, err)
		}

		changed, err = store.MarkDisconnected(ctx, "g", "a")
		if err != nil || changed {
			t.Errorf("Expected second disconnect to be a no-op, got %v %v", changed, err)
		}

		// A later update must not revive the flag
		if err := store.Merge(ctx, "g", map[string]string{state.PlayerField("a", state.AttrX): "5"}); err != nil {
			t.Fatalf("Failed to merge: %v", err)
		}
		got, _ := store.Get(ctx, "g")
		if got[state.PlayerField("a", state.AttrConnected)] != state.Disconnected {
			t.Error("Expected connected flag to stay 0")
		}
		if state.StatusOf(got) != state.StatusDegraded {
			t.Errorf("Expected degraded, got %s", state.StatusOf(got))
		}
	})

	t.Run("disconnect non participant", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, "g", state.Initial(state.DefaultArena(), "a", "b")); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		changed, err := store.MarkDisconnected(ctx, "g", "stranger")
		if err != nil || changed {
			t.Errorf("Expected no change for stranger, got %v %v", changed, err)
		}
		got, _ := store.Get(ctx, "g")
		if _, ok := got[state.PlayerField("stranger", state.AttrConnected)]; ok {
			t.Error("Stranger must not gain participant fields")
		}
	})

	t.Run("disconnect unknown session", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.MarkDisconnected(ctx, "missing", "a"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("delete and list", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"g2", "g1"} {
			if err := store.Create(ctx, id, state.Initial(state.DefaultArena(), "a", "b")); err != nil {
				t.Fatalf("Failed to create session: %v", err)
			}
		}

		ids, err := store.List(ctx)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(ids) != 2 || ids[0] != "g1" || ids[1] != "g2" {
			t.Errorf("Expected [g1 g2], got %v", ids)
		}

		if err := store.Delete(ctx, "g1"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if err := store.Delete(ctx, "g1"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
		ids, _ = store.List(ctx)
		if len(ids) != 1 {
			t.Errorf("Expected 1 session left, got %v", ids)
		}
	})

	t.Run("concurrent disconnects flip once", func(t *testing.T) {
		store := newStore(t)
		if err := store.Create(ctx, "g", state.Initial(state.DefaultArena(), "a", "b")); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		flips := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				changed, err := store.MarkDisconnected(ctx, "g", "b")
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if changed {
					mu.Lock()
					flips++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if flips != 1 {
			t.Errorf("Expected exactly one flip, got %d", flips)
		}
	})
}
