package websocket

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/metrics"
)

// HandlerConfig tunes the connection gateway
type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin hosts. Empty or "*" accepts any.
	AllowedOrigins []string

	// OperationTimeout bounds each store or queue call made for a frame
	OperationTimeout time.Duration
}

// Handler upgrades HTTP requests to player connections
type Handler struct {
	ctx      context.Context
	hub      *Hub
	svc      service.MatchService
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
	newID    func() string
}

// NewHandler creates the gateway. Connections live until ctx is done or the peer goes away.
func NewHandler(ctx context.Context, hub *Hub, svc service.MatchService, cfg HandlerConfig, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		ctx: ctx,
		hub: hub,
		svc: svc,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		log:   log,
		newID: uuid.NewString,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.Contains(allowed, u.Host) || lo.Contains(allowed, origin)
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket accepts a connection, issues its client id and starts its pumps
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := newClient(h.newID(), h.hub, h.svc, conn, h.cfg.OperationTimeout, h.log)

	ctx, cancel := client.opContext(h.ctx)
	defer cancel()

	if err := h.hub.Join(ctx, service.PlayerGroup(client.id), client); err != nil {
		h.log.WithError(err).Error("failed to register connection")
		conn.Close()
		return
	}
	metrics.Connections.Inc()

	if _, err := h.hub.Publish(ctx, service.PlayerGroup(client.id), service.Event{
		Type:     service.EventConnected,
		ClientID: client.id,
	}); err != nil {
		h.log.WithError(err).Warn("failed to greet connection")
	}

	client.log.WithField("remote", r.RemoteAddr).Info("connection opened")

	go client.writePump(h.ctx)
	go client.readPump(h.ctx)
}
