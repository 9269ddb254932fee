package service

import (
	"context"
	"encoding/json"
)

// MatchService defines the operations the connection gateway drives.
// A client is bound to a session from the moment it is paired until it
// leaves or disconnects; Binding reports it. An empty gameID means the
// caller is not bound and every session operation is then a no-op.
type MatchService interface {
	// Matchmaking
	FindMatch(ctx context.Context, clientID string) (*Match, error)
	CancelSearch(ctx context.Context, clientID string) error

	// Session operations
	Update(ctx context.Context, clientID, gameID string, payload json.RawMessage) error
	Score(ctx context.Context, clientID, gameID string, payload json.RawMessage) error
	Chat(ctx context.Context, clientID, gameID string, payload json.RawMessage) error
	Leave(ctx context.Context, clientID, gameID string) (bool, error)
	Disconnect(ctx context.Context, clientID string) error
	Binding(clientID string) (Binding, bool)

	// Inspection
	GetSession(ctx context.Context, gameID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]string, error)
	WaitingClients(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (*Stats, error)
}

// Broadcaster fans an event out to every member of a group.
// Delivery is best effort; the returned count is the number of members
// the event was handed to.
type Broadcaster interface {
	Publish(ctx context.Context, group string, ev Event) (int, error)
}
