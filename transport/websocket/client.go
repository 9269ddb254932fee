package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
	"github.com/wricardo/mcp-training/pongrelay/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Events buffered per connection before deliveries are dropped.
	sendBufferSize = 256
)

// Client is one player connection. It is a Subscriber of its private group
// and, once matched, of its session's game group.
type Client struct {
	id   string
	hub  *Hub
	svc  service.MatchService
	conn *websocket.Conn
	log  logrus.FieldLogger

	opTimeout time.Duration

	send     chan service.Event
	done     chan struct{}
	sendMu   sync.Mutex
	closed   bool
	stopOnce sync.Once

	// mu guards the session binding
	mu     sync.Mutex
	gameID string
	role   state.Role
}

func newClient(id string, hub *Hub, svc service.MatchService, conn *websocket.Conn, opTimeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		id:        id,
		hub:       hub,
		svc:       svc,
		conn:      conn,
		opTimeout: opTimeout,
		send:      make(chan service.Event, sendBufferSize),
		done:      make(chan struct{}),
		log:       log.WithField("client_id", id),
	}
}

// ID returns the connection's client id
func (c *Client) ID() string {
	return c.id
}

// Deliver queues ev for the write pump without blocking
func (c *Client) Deliver(ev service.Event) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return ErrSubscriberClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *Client) stop() {
	c.stopOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		c.sendMu.Unlock()
		close(c.done)
	})
}

func (c *Client) binding() (string, state.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.role
}

// session returns the game the service has this client bound to. It is
// set at pairing time, before matched reaches the write pump.
func (c *Client) session() string {
	b, _ := c.svc.Binding(c.id)
	return b.GameID
}

// bindLocked attaches the connection to a session and joins its game group,
// leaving the group of a stale previous session. c.mu must be held.
func (c *Client) bindLocked(ctx context.Context, gameID string, role state.Role) {
	if c.gameID == gameID {
		return
	}
	if prev := c.gameID; prev != "" {
		if err := c.hub.Leave(ctx, service.GameGroup(prev), c); err != nil {
			c.log.WithError(err).WithField("game_id", prev).Warn("failed to leave game group")
		}
	}
	c.gameID = gameID
	c.role = role
	if err := c.hub.Join(ctx, service.GameGroup(gameID), c); err != nil {
		c.log.WithError(err).WithField("game_id", gameID).Warn("failed to join game group")
	}
	c.log.WithFields(logrus.Fields{"game_id": gameID, "role": role}).Info("bound to session")
}

// unbind detaches the connection from gameID if it is still bound to it
func (c *Client) unbind(ctx context.Context, gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gameID != gameID {
		return
	}
	c.gameID = ""
	c.role = ""
	if err := c.hub.Leave(ctx, service.GameGroup(gameID), c); err != nil {
		c.log.WithError(err).WithField("game_id", gameID).Warn("failed to leave game group")
	}
}

func (c *Client) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.opTimeout)
}

// dispatch runs one inbound frame through the action table
func (c *Client) dispatch(ctx context.Context, data []byte) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.MalformedMessages.Inc()
		c.log.WithError(err).Debug("dropping malformed frame")
		return
	}

	handler, ok := actionHandlers[msg.Action]
	if !ok {
		c.log.WithField("action", msg.Action).Debug("ignoring unknown action")
		return
	}
	metrics.Messages.WithLabelValues(string(msg.Action)).Inc()

	opCtx, cancel := c.opContext(ctx)
	defer cancel()

	if err := handler(opCtx, c, msg.Payload); err != nil {
		if errors.Is(err, service.ErrMalformedPayload) {
			metrics.MalformedMessages.Inc()
			c.log.WithError(err).WithField("action", msg.Action).Debug("dropping malformed payload")
			return
		}
		c.log.WithError(err).WithField("action", msg.Action).Error("action failed")
	}
}

// readPump pumps messages from the WebSocket connection to the service.
// When it returns the connection is torn down and treated as a disconnect.
func (c *Client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.stop()
		c.cleanup()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("websocket error")
			}
			return
		}
		c.dispatch(ctx, data)
	}
}

// cleanup runs the disconnect path with a context of its own, since the
// connection's context is already cancelled.
func (c *Client) cleanup() {
	ctx, cancel := c.opContext(context.Background())
	defer cancel()

	if err := c.svc.Disconnect(ctx, c.id); err != nil {
		c.log.WithError(err).Error("disconnect cleanup failed")
	}
	if err := c.hub.LeaveAll(ctx, c); err != nil && !errors.Is(err, ErrHubClosed) {
		c.log.WithError(err).Warn("failed to leave groups")
	}
	metrics.Connections.Dec()
	c.log.Info("connection closed")
}

// handleEvent applies the binding side effects of ev before it is written
func (c *Client) handleEvent(ctx context.Context, ev service.Event) {
	switch ev.Type {
	case service.EventMatched:
		opCtx, cancel := c.opContext(ctx)
		defer cancel()

		// the service may already have released us, e.g. after a leave_game
		if b, ok := c.svc.Binding(c.id); !ok || b.GameID != ev.GameID {
			return
		}
		c.mu.Lock()
		c.bindLocked(opCtx, ev.GameID, ev.Role)
		c.mu.Unlock()

	case service.EventPlayerLeft:
		if ev.ClientID != c.id {
			return
		}
		gameID, _ := c.binding()
		if gameID == "" {
			return
		}
		opCtx, cancel := c.opContext(ctx)
		defer cancel()
		c.unbind(opCtx, gameID)
	}
}

// writePump pumps events from the hub to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			c.handleEvent(ctx, ev)

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
