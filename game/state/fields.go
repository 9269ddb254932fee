package state

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Record field names. Every value in a record is a string.
const (
	FieldBallX      = "ball_x"
	FieldBallY      = "ball_y"
	FieldBallVX     = "ball_vx"
	FieldBallVY     = "ball_vy"
	FieldScoreLeft  = "score_left"
	FieldScoreRight = "score_right"

	playerPrefix = "player:"

	Connected    = "1"
	Disconnected = "0"
)

// Per-participant attribute names used in player:<id>:<attr> fields.
const (
	AttrX         = "x"
	AttrY         = "y"
	AttrVX        = "vx"
	AttrVY        = "vy"
	AttrRole      = "role"
	AttrConnected = "connected"
)

var ErrInvalidArena = errors.New("invalid arena")

// Arena holds the geometry used to lay out a fresh session
type Arena struct {
	Width        int `mapstructure:"width" json:"width"`
	Height       int `mapstructure:"height" json:"height"`
	GroundOffset int `mapstructure:"ground_offset" json:"ground_offset"`
	PlayerInset  int `mapstructure:"player_inset" json:"player_inset"`
	BallVX       int `mapstructure:"ball_vx" json:"ball_vx"`
	BallVY       int `mapstructure:"ball_vy" json:"ball_vy"`
	BallLift     int `mapstructure:"ball_lift" json:"ball_lift"`
}

// DefaultArena returns the 900x420 field the clients draw
func DefaultArena() Arena {
	return Arena{
		Width:        900,
		Height:       420,
		GroundOffset: 40,
		PlayerInset:  110,
		BallVX:       4,
		BallVY:       -4,
		BallLift:     50,
	}
}

// Validate checks the arena can hold two players
func (a Arena) Validate() error {
	if a.Width <= 0 || a.Height <= 0 {
		return ErrInvalidArena
	}
	if a.GroundOffset < 0 || a.GroundOffset >= a.Height {
		return ErrInvalidArena
	}
	if a.PlayerInset < 0 || a.PlayerInset*2 >= a.Width {
		return ErrInvalidArena
	}
	return nil
}

// GroundY is the resting height of both players
func (a Arena) GroundY() int {
	return a.Height - a.GroundOffset
}

// PlayerField returns the record key for one participant attribute
func PlayerField(clientID, attr string) string {
	return playerPrefix + clientID + ":" + attr
}

// ParsePlayerField splits a player:<id>:<attr> key
func ParsePlayerField(key string) (clientID, attr string, ok bool) {
	if !strings.HasPrefix(key, playerPrefix) {
		return "", "", false
	}
	rest := key[len(playerPrefix):]
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Initial builds the record of a freshly paired session. Horizontal
// positions follow the role: left starts at PlayerInset, right at
// Width-PlayerInset, whichever of the two queued first.
func Initial(a Arena, left, right string) map[string]string {
	ground := strconv.Itoa(a.GroundY())
	return map[string]string{
		FieldBallX:      strconv.Itoa(a.Width / 2),
		FieldBallY:      strconv.Itoa(a.Height/2 - a.BallLift),
		FieldBallVX:     strconv.Itoa(a.BallVX),
		FieldBallVY:     strconv.Itoa(a.BallVY),
		FieldScoreLeft:  "0",
		FieldScoreRight: "0",

		PlayerField(left, AttrRole):      string(RoleLeft),
		PlayerField(left, AttrConnected): Connected,
		PlayerField(left, AttrX):         strconv.Itoa(a.PlayerInset),
		PlayerField(left, AttrY):         ground,

		PlayerField(right, AttrRole):      string(RoleRight),
		PlayerField(right, AttrConnected): Connected,
		PlayerField(right, AttrX):         strconv.Itoa(a.Width - a.PlayerInset),
		PlayerField(right, AttrY):         ground,
	}
}

func numberOrZero(n json.Number) string {
	if n == "" {
		return "0"
	}
	return n.String()
}

// Fields returns the record fields an update from clientID writes.
// Missing pos or ball components default to zero.
func (u UpdatePayload) Fields(clientID string) map[string]string {
	fields := make(map[string]string)
	if u.Pos != nil && (u.Pos.X != "" || u.Pos.Y != "") {
		fields[PlayerField(clientID, AttrX)] = numberOrZero(u.Pos.X)
		fields[PlayerField(clientID, AttrY)] = numberOrZero(u.Pos.Y)
	}
	if u.VX != nil {
		fields[PlayerField(clientID, AttrVX)] = u.VX.String()
	}
	if u.VY != nil {
		fields[PlayerField(clientID, AttrVY)] = u.VY.String()
	}
	if u.Ball != nil {
		fields[FieldBallX] = numberOrZero(u.Ball.X)
		fields[FieldBallY] = numberOrZero(u.Ball.Y)
		fields[FieldBallVX] = numberOrZero(u.Ball.VX)
		fields[FieldBallVY] = numberOrZero(u.Ball.VY)
	}
	return fields
}

// Fields returns the score fields present in the payload
func (s ScorePayload) Fields() map[string]string {
	fields := make(map[string]string)
	if s.Left != nil {
		fields[FieldScoreLeft] = s.Left.String()
	}
	if s.Right != nil {
		fields[FieldScoreRight] = s.Right.String()
	}
	return fields
}

// Participants lists the ids that have a role in the record, sorted
func Participants(fields map[string]string) []string {
	var ids []string
	for key := range fields {
		id, attr, ok := ParsePlayerField(key)
		if ok && attr == AttrRole {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RoleOf returns the role recorded for clientID
func RoleOf(fields map[string]string, clientID string) (Role, bool) {
	role := Role(fields[PlayerField(clientID, AttrRole)])
	return role, role.Valid()
}

// Decode converts a raw record into a SharedState. Unparseable numbers read as zero.
func Decode(fields map[string]string) SharedState {
	s := SharedState{
		Ball: Ball{
			X:  cast.ToFloat64(fields[FieldBallX]),
			Y:  cast.ToFloat64(fields[FieldBallY]),
			VX: cast.ToFloat64(fields[FieldBallVX]),
			VY: cast.ToFloat64(fields[FieldBallVY]),
		},
		Score: Score{
			Left:  cast.ToInt(cast.ToFloat64(fields[FieldScoreLeft])),
			Right: cast.ToInt(cast.ToFloat64(fields[FieldScoreRight])),
		},
		Players: make(map[string]Player),
	}

	for _, id := range Participants(fields) {
		s.Players[id] = Player{
			ID:        id,
			X:         cast.ToFloat64(fields[PlayerField(id, AttrX)]),
			Y:         cast.ToFloat64(fields[PlayerField(id, AttrY)]),
			VX:        cast.ToFloat64(fields[PlayerField(id, AttrVX)]),
			VY:        cast.ToFloat64(fields[PlayerField(id, AttrVY)]),
			Role:      Role(fields[PlayerField(id, AttrRole)]),
			Connected: fields[PlayerField(id, AttrConnected)] == Connected,
		}
	}
	return s
}

// Status derives the lifecycle status from the participants' connected flags
func (s SharedState) Status() Status {
	connected := 0
	for _, p := range s.Players {
		if p.Connected {
			connected++
		}
	}
	switch {
	case connected >= 2:
		return StatusActive
	case connected == 1:
		return StatusDegraded
	default:
		return StatusEnded
	}
}

// StatusOf is Decode(fields).Status()
func StatusOf(fields map[string]string) Status {
	return Decode(fields).Status()
}
