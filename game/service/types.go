package service

import (
	"encoding/json"

	"github.com/wricardo/mcp-training/pongrelay/game/state"
)

// EventType names an outbound message
type EventType string

const (
	EventConnected   EventType = "connected"
	EventSearching   EventType = "searching"
	EventMatched     EventType = "matched"
	EventUpdate      EventType = "update"
	EventScoreUpdate EventType = "score_update"
	EventChat        EventType = "chat"
	EventPlayerLeft  EventType = "player_left"

	// EventWSClosed is never sent by the server. Clients synthesize it when
	// their connection drops.
	EventWSClosed EventType = "ws_closed"
)

// Event is one outbound message. Unused fields are omitted on the wire.
type Event struct {
	Type     EventType         `json:"type"`
	ClientID string            `json:"client_id,omitempty"`
	GameID   string            `json:"game_id,omitempty"`
	Role     state.Role        `json:"role,omitempty"`
	State    map[string]string `json:"state,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	From     string            `json:"from,omitempty"`
}

// Match describes a freshly created session
type Match struct {
	GameID string `json:"game_id"`
	Left   string `json:"left"`
	Right  string `json:"right"`
}

// RoleOf returns the role assigned to clientID
func (m Match) RoleOf(clientID string) state.Role {
	if clientID == m.Left {
		return state.RoleLeft
	}
	return state.RoleRight
}

// Binding is the session a client currently belongs to
type Binding struct {
	GameID string     `json:"game_id"`
	Role   state.Role `json:"role"`
}

func (m Match) other(clientID string) string {
	if clientID == m.Left {
		return m.Right
	}
	return m.Left
}

// SessionInfo provides information about a match session
type SessionInfo struct {
	ID     string            `json:"id"`
	Status state.Status      `json:"status"`
	State  state.SharedState `json:"state"`
	Fields map[string]string `json:"fields"`
}

// Stats is a snapshot of matchmaking and session counts
type Stats struct {
	Waiting  int `json:"waiting"`
	Sessions int `json:"sessions"`
}

// PlayerGroup is the private group of one connection
func PlayerGroup(clientID string) string {
	return "player_" + clientID
}

// GameGroup is the group shared by both participants of a session
func GameGroup(gameID string) string {
	return "game_" + gameID
}
