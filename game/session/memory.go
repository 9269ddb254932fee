package session

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

type record struct {
	fields    map[string]string
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	sessions map[string]*record
	mu       sync.RWMutex
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*record),
		now:      time.Now,
	}
}

// Create stores a new record
func (m *MemoryStore) Create(_ context.Context, id string, fields map[string]string) error {
	if err := validateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return ErrSessionAlreadyExists
	}

	now := m.now()
	m.sessions[id] = &record{
		fields:    maps.Clone(fields),
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Get returns a copy of the record
func (m *MemoryStore) Get(_ context.Context, id string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return maps.Clone(rec.fields), nil
}

// Merge upserts fields into an existing record
func (m *MemoryStore) Merge(_ context.Context, id string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.sessions[id]
	if !exists {
		return ErrSessionNotFound
	}
	maps.Copy(rec.fields, fields)
	rec.updatedAt = m.now()
	return nil
}

// MarkDisconnected flips the connected flag of clientID if it is set
func (m *MemoryStore) MarkDisconnected(_ context.Context, id, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.sessions[id]
	if !exists {
		return false, ErrSessionNotFound
	}

	key := state.PlayerField(clientID, state.AttrConnected)
	if rec.fields[key] != state.Connected {
		return false, nil
	}
	rec.fields[key] = state.Disconnected
	rec.updatedAt = m.now()
	return true, nil
}

// Delete removes a record
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; !exists {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns all record ids, sorted
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of stored records
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired removes records that have not been written for maxAge.
// Returns the number of removed records.
func (m *MemoryStore) CleanupExpired(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-maxAge)
	removed := 0

	for id, rec := range m.sessions {
		if rec.updatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	return removed
}
