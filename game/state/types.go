package state

import "encoding/json"

// Role is the side of the field a participant plays on
type Role string

const (
	RoleLeft  Role = "left"
	RoleRight Role = "right"
)

// Valid reports whether r is one of the two known roles
func (r Role) Valid() bool {
	return r == RoleLeft || r == RoleRight
}

// Opposite returns the other role
func (r Role) Opposite() Role {
	if r == RoleLeft {
		return RoleRight
	}
	return RoleLeft
}

// Status is the lifecycle status derived from a session record
type Status string

const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusEnded    Status = "ended"
)

// Ball represents the last reported ball snapshot
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Player represents one participant's last reported state
type Player struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VX        float64 `json:"vx"`
	VY        float64 `json:"vy"`
	Role      Role    `json:"role"`
	Connected bool    `json:"connected"`
}

// Score holds both sides' points
type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// SharedState is the typed view of a session record
type SharedState struct {
	Ball    Ball              `json:"ball"`
	Players map[string]Player `json:"players"`
	Score   Score             `json:"score"`
}

// Vec is a position as sent by clients. Numbers are kept in their textual
// form so they round-trip through the store unchanged.
type Vec struct {
	X json.Number `json:"x"`
	Y json.Number `json:"y"`
}

// BallPayload is the ball snapshot carried by an update
type BallPayload struct {
	X  json.Number `json:"x"`
	Y  json.Number `json:"y"`
	VX json.Number `json:"vx"`
	VY json.Number `json:"vy"`
}

// UpdatePayload is the body of an inbound update action
type UpdatePayload struct {
	PlayerID string       `json:"player_id,omitempty"`
	Pos      *Vec         `json:"pos,omitempty"`
	VX       *json.Number `json:"vx,omitempty"`
	VY       *json.Number `json:"vy,omitempty"`
	Ball     *BallPayload `json:"ball,omitempty"`
}

// ScorePayload is the body of an inbound score action
type ScorePayload struct {
	Left  *json.Number `json:"left,omitempty"`
	Right *json.Number `json:"right,omitempty"`
}

// ChatPayload is the body of an inbound chat action and of the relayed chat event
type ChatPayload struct {
	PlayerID string `json:"player_id"`
	Message  string `json:"message"`
}
