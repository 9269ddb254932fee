package matchmaking

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// MemoryQueue is a process-local Queue
type MemoryQueue struct {
	mu      sync.Mutex
	waiting []string
}

// NewMemoryQueue creates an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// don't add repeated clients
	if lo.Contains(q.waiting, clientID) {
		return nil
	}
	q.waiting = append(q.waiting, clientID)
	return nil
}

func (q *MemoryQueue) TryPair(_ context.Context) (Pair, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) < 2 {
		return Pair{}, false, nil
	}
	p := Pair{First: q.waiting[0], Second: q.waiting[1]}
	q.waiting = slices.Clone(q.waiting[2:])
	return p, true, nil
}

func (q *MemoryQueue) Remove(_ context.Context, clientID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := lo.IndexOf(q.waiting, clientID)
	if i < 0 {
		return false, nil
	}
	q.waiting = slices.Delete(q.waiting, i, i+1)
	return true, nil
}

func (q *MemoryQueue) Restore(_ context.Context, p Pair) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := lo.Filter([]string{p.First, p.Second}, func(id string, _ int) bool {
		return id != "" && !lo.Contains(q.waiting, id)
	})
	q.waiting = append(head, q.waiting...)
	return nil
}

func (q *MemoryQueue) List(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.waiting), nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting), nil
}
