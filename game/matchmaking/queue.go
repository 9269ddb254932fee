package matchmaking

import (
	"context"
	"errors"
)

var ErrInvalidClientID = errors.New("invalid client ID")

// Pair is two clients removed from the queue together.
// First was waiting longer than Second.
type Pair struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// Contains reports whether id is one of the pair
func (p Pair) Contains(id string) bool {
	return p.First == id || p.Second == id
}

// Other returns the partner of id
func (p Pair) Other(id string) string {
	if p.First == id {
		return p.Second
	}
	return p.First
}

// Queue is the FIFO of clients waiting for an opponent
type Queue interface {
	// Enqueue appends clientID to the tail. An id already waiting is not added again.
	Enqueue(ctx context.Context, clientID string) error

	// TryPair atomically removes the two oldest entries. Reports false and
	// leaves the queue unchanged when fewer than two are waiting.
	TryPair(ctx context.Context) (Pair, bool, error)

	// Remove deletes clientID if it is still waiting
	Remove(ctx context.Context, clientID string) (bool, error)

	// Restore puts a popped pair back at the head in its original order
	Restore(ctx context.Context, p Pair) error

	// List returns the waiting ids, oldest first
	List(ctx context.Context) ([]string, error)

	// Len returns the number of waiting ids
	Len(ctx context.Context) (int, error)
}
