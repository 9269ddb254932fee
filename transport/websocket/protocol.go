package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
)

// Action is the closed set of inbound client actions
type Action string

const (
	ActionFindGame  Action = "find_game"
	ActionLeaveGame Action = "leave_game"
	ActionUpdate    Action = "update"
	ActionChat      Action = "chat"
	ActionScore     Action = "score"
)

// Inbound is one client frame
type Inbound struct {
	Action  Action          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type actionHandler func(ctx context.Context, c *Client, payload json.RawMessage) error

// actionHandlers is the dispatch table. Actions not listed are ignored.
var actionHandlers = map[Action]actionHandler{
	ActionFindGame:  handleFindGame,
	ActionLeaveGame: handleLeaveGame,
	ActionUpdate:    handleUpdate,
	ActionChat:      handleChat,
	ActionScore:     handleScore,
}

// Known reports whether a is part of the protocol
func (a Action) Known() bool {
	_, ok := actionHandlers[a]
	return ok
}

func handleFindGame(ctx context.Context, c *Client, _ json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	match, err := c.svc.FindMatch(ctx, c.id)
	if errors.Is(err, service.ErrAlreadyBound) {
		// paired but matched not written yet
		if b, ok := c.svc.Binding(c.id); ok {
			c.bindLocked(ctx, b.GameID, b.Role)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if match != nil && (match.Left == c.id || match.Right == c.id) {
		c.bindLocked(ctx, match.GameID, match.RoleOf(c.id))
	}
	return nil
}

func handleLeaveGame(ctx context.Context, c *Client, _ json.RawMessage) error {
	gameID := c.session()
	if gameID == "" {
		return nil
	}
	if _, err := c.svc.Leave(ctx, c.id, gameID); err != nil {
		return err
	}
	c.unbind(ctx, gameID)
	return nil
}

func handleUpdate(ctx context.Context, c *Client, payload json.RawMessage) error {
	return c.svc.Update(ctx, c.id, c.session(), payload)
}

func handleChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	return c.svc.Chat(ctx, c.id, c.session(), payload)
}

func handleScore(ctx context.Context, c *Client, payload json.RawMessage) error {
	return c.svc.Score(ctx, c.id, c.session(), payload)
}
