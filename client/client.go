package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/state"
	gateway "github.com/wricardo/mcp-training/pongrelay/transport/websocket"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client closed")
)

const (
	defaultReconnectDelay = time.Second
	writeWait             = 10 * time.Second
	eventBufferSize       = 64
)

// Option configures a Client
type Option func(*Client)

// WithReconnectDelay sets the pause between connection attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// WithDialer replaces the default websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger used for connection errors
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// Client keeps a connection to the relay gateway open, reconnecting after
// every drop. Each drop is reported on Events as a ws_closed event.
type Client struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	log            logrus.FieldLogger

	events chan service.Event

	mu   sync.Mutex
	conn *websocket.Conn
	id   string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a client for the gateway at url. Call Run to connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		log:            logrus.StandardLogger(),
		events:         make(chan service.Event, eventBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Events delivers every server event plus synthetic ws_closed events.
// It is closed when Run returns. Reading stalls while nobody drains it.
func (c *Client) Events() <-chan service.Event {
	return c.events
}

// ID returns the id assigned by the server on the current connection
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and reconnects until ctx is cancelled or Close is called
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithError(err).WithField("url", c.url).Warn("Dial failed")
		} else {
			c.serve(ctx, conn)
			if !c.emit(ctx, service.Event{Type: service.EventWSClosed}) {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

// serve reads events from conn until it fails
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.id = ""
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	})
	defer stop()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("Connection dropped")
			}
			return
		}

		var ev service.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == service.EventConnected && ev.ClientID != "" {
			c.mu.Lock()
			c.id = ev.ClientID
			c.mu.Unlock()
		}
		if !c.emit(ctx, ev) {
			return
		}
	}
}

func (c *Client) emit(ctx context.Context, ev service.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Send writes one action frame. It fails with ErrNotConnected between
// connections instead of buffering.
func (c *Client) Send(action gateway.Action, payload interface{}) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	frame := map[string]interface{}{"action": action}
	if payload != nil {
		frame["payload"] = payload
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send %s: %w", action, err)
	}
	return nil
}

// FindGame asks the server to queue this client
func (c *Client) FindGame() error {
	return c.Send(gateway.ActionFindGame, map[string]string{"client_id": c.ID()})
}

// LeaveGame leaves the current session
func (c *Client) LeaveGame() error {
	return c.Send(gateway.ActionLeaveGame, map[string]string{"player_id": c.ID()})
}

// Update publishes this client's paddle and, optionally, the ball
func (c *Client) Update(p state.UpdatePayload) error {
	if p.PlayerID == "" {
		p.PlayerID = c.ID()
	}
	return c.Send(gateway.ActionUpdate, p)
}

// Score publishes a score change
func (c *Client) Score(p state.ScorePayload) error {
	return c.Send(gateway.ActionScore, p)
}

// Chat sends a chat line to the session
func (c *Client) Chat(message string) error {
	return c.Send(gateway.ActionChat, state.ChatPayload{PlayerID: c.ID(), Message: message})
}

// Close stops Run and closes the current connection
func (c *Client) Close() error {
	c.cancel()
	return nil
}
