package session

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrInvalidSessionID     = errors.New("invalid session ID")
)

// Store keeps the latest known record of every match session.
// Records are flat string maps laid out as described in package state.
type Store interface {
	// Create stores a new record. Fails with ErrSessionAlreadyExists if id is taken.
	Create(ctx context.Context, id string, fields map[string]string) error

	// Get returns a copy of the full record
	Get(ctx context.Context, id string) (map[string]string, error)

	// Merge upserts the named fields and leaves every other field untouched
	Merge(ctx context.Context, id string, fields map[string]string) error

	// MarkDisconnected flips clientID's connected flag from 1 to 0.
	// Reports false when the flag was already 0 or clientID is not a participant.
	MarkDisconnected(ctx context.Context, id, clientID string) (bool, error)

	// Delete removes the record
	Delete(ctx context.Context, id string) error

	// List returns the ids of all stored records
	List(ctx context.Context) ([]string, error)
}

func validateID(id string) error {
	if id == "" {
		return ErrInvalidSessionID
	}
	return nil
}
