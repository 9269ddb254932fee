// Command pongrelay starts the Pong match relay server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing the websocket gateway, REST API and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from defaults, an optional config file, PONG_* environment
// variables and flags, in increasing priority. An optional ngrok tunnel
// gives players outside the local network a public URL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/pongrelay/api"
	"github.com/wricardo/mcp-training/pongrelay/game/config"
	"github.com/wricardo/mcp-training/pongrelay/game/matchmaking"
	"github.com/wricardo/mcp-training/pongrelay/game/service"
	"github.com/wricardo/mcp-training/pongrelay/game/session"
	"github.com/wricardo/mcp-training/pongrelay/logger"
	"github.com/wricardo/mcp-training/pongrelay/transport/mcp"
	"github.com/wricardo/mcp-training/pongrelay/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Pong Relay Server"
)

func init() {
	config.RegisterFlags(pflag.CommandLine)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [MODE]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		fmt.Fprintf(os.Stderr, "Available modes:\n")
		fmt.Fprintf(os.Stderr, "  server, http     Run HTTP server with gateway, API, and MCP endpoint (default)\n")
		fmt.Fprintf(os.Stderr, "  stdio-mcp        Run MCP stdio server with internal HTTP server\n")
		fmt.Fprintf(os.Stderr, "  mcp-stdio        Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "  mcp              Alias for stdio-mcp\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # Run on default port 8080 with in-memory state\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --port 9090              # Run on port 9090\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --store redis            # Keep sessions and queue in Redis\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config pong.yaml mcp   # Run MCP stdio server\n", os.Args[0])
	}
}

// main parses flags, initializes services, and starts the selected mode.
func main() {
	// Load .env file if it exists (ignore error if not found)
	envErr := godotenv.Load()

	pflag.Parse()

	if v, _ := pflag.CommandLine.GetBool("version"); v {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	settings, err := loadSettings(pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(settings.Log, settings.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	log := logrus.StandardLogger()

	if envErr == nil {
		log.Info("Loaded environment variables from .env file")
	} else if !os.IsNotExist(envErr) {
		log.WithError(envErr).Warn("Error loading .env file")
	}

	// Determine mode from command
	mode := "server"
	if args := pflag.Args(); len(args) > 0 {
		mode = args[0]
	}

	log.WithFields(logrus.Fields{"version": Version, "mode": mode, "store": settings.Store}).Infof("Starting %s", AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initializeServices(ctx, settings, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	defer app.Close()

	switch mode {
	case "stdio-mcp", "mcp-stdio", "mcp":
		runStdioMCPWithInternalServer(ctx, app, settings, log)

	case "server", "http":
		runHTTPServer(ctx, app, settings, log)

	default:
		log.Fatalf("Unknown mode: %s. Use 'server' (default) or 'stdio-mcp'", mode)
	}
}

// loadSettings merges defaults, the optional config file, environment and flags
func loadSettings(fs *pflag.FlagSet) (*config.Settings, error) {
	v := config.New()
	if err := config.BindFlags(v, fs); err != nil {
		return nil, err
	}
	configFile, _ := fs.GetString("config")
	return config.Load(v, configFile)
}

// services holds the long-lived components shared by every mode
type services struct {
	svc   *service.Service
	hub   *websocket.Hub
	store session.Store
	queue matchmaking.Queue
	rdb   *redis.Client
	log   logrus.FieldLogger
}

// Close releases the Redis connection pool, if any
func (a *services) Close() error {
	if a.rdb != nil {
		return a.rdb.Close()
	}
	return nil
}

// initializeServices picks the store backend, starts the broadcast router
// and wires the match service. With the memory backend it also starts the
// cleanup routine that prunes stale sessions.
func initializeServices(ctx context.Context, settings *config.Settings, log logrus.FieldLogger) (*services, error) {
	app := &services{log: log}

	switch settings.Store {
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, settings.OperationTimeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", settings.Redis.Addr, err)
		}

		app.rdb = rdb
		app.store = session.NewRedisStore(rdb, settings.SessionTTL)
		app.queue = matchmaking.NewRedisQueue(rdb, settings.QueueKey)

	default:
		memStore := session.NewMemoryStore()
		app.store = memStore
		app.queue = matchmaking.NewMemoryQueue()

		if settings.CleanupInterval > 0 && settings.SessionTTL > 0 {
			go sessionCleanupRoutine(ctx, memStore, settings.CleanupInterval, settings.SessionTTL, log)
		}
	}

	app.hub = websocket.NewHub(log)
	go app.hub.Run(ctx)

	app.svc = service.NewService(app.store, app.queue, app.hub, settings.Arena, service.WithLogger(log))
	return app, nil
}

// sessionCleanupRoutine periodically removes sessions that have not been written
// within the provided retention window. Redis expires keys on its own.
func sessionCleanupRoutine(ctx context.Context, store *session.MemoryStore, interval, maxAge time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.CleanupExpired(maxAge); removed > 0 {
				log.WithField("removed", removed).Info("Cleaned up expired sessions")
			}
		}
	}
}

// newRouter mounts the gateway, REST API and the /mcp endpoint proxying to baseURL
func newRouter(ctx context.Context, app *services, settings *config.Settings, baseURL string) http.Handler {
	wsHandler := websocket.NewHandler(ctx, app.hub, app.svc, websocket.HandlerConfig{
		AllowedOrigins:   settings.AllowedOrigins,
		OperationTimeout: settings.OperationTimeout,
	}, app.log)

	apiServer := api.NewServer(app.svc, app.hub, wsHandler)
	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient.GetMCPServer()))
	return mainRouter
}

// mcpHandler answers one MCP JSON-RPC message per POST
func mcpHandler(mcpServer *server.MCPServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer serves the gateway, REST API and /mcp endpoint until ctx is cancelled.
// If ngrok is enabled, it also provisions a public tunnel.
func runHTTPServer(ctx context.Context, app *services, settings *config.Settings, log logrus.FieldLogger) {
	addr := settings.Addr()
	handler := newRouter(ctx, app, settings, fmt.Sprintf("http://%s", addr))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Infof("HTTP server listening on %s", addr)
		log.Infof("Gateway: ws://%s/ws", addr)
		log.Infof("REST API: http://%s/api", addr)
		log.Infof("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	if settings.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, settings.Ngrok, handler, log)
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
	}

	wg.Wait()
	log.Info("Server stopped")
}

// runNgrokTunnel serves handler through an ngrok endpoint until ctx is cancelled
func runNgrokTunnel(ctx context.Context, cfg config.NgrokSettings, handler http.Handler, log logrus.FieldLogger) {
	if cfg.Authtoken == "" {
		log.Warn("Ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	log.Info("Starting ngrok tunnel...")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		log.WithField("domain", cfg.Domain).Info("Using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.Authtoken))
	if err != nil {
		log.WithError(err).Error("Failed to start ngrok tunnel")
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.WithError(err).Warn("Failed to close ngrok tunnel")
		}
	}()

	ngrokURL := tun.URL()
	log.Infof("Ngrok tunnel established: %s", ngrokURL)
	log.Infof("  Gateway (ngrok): %s/ws", ngrokURL)
	log.Infof("  REST API (ngrok): %s/api", ngrokURL)
	log.Infof("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.WithError(err).Error("Ngrok server error")
	}
	log.Info("Ngrok tunnel closed")
}

// runStdioMCPWithInternalServer runs an MCP stdio server.
// It tries to reuse an external API at the configured address; if unavailable, it
// starts an internal HTTP API bound to a random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, app *services, settings *config.Settings, log logrus.FieldLogger) {
	externalURL := fmt.Sprintf("http://%s", settings.Addr())
	log.Infof("Checking for external API server at %s...", externalURL)

	baseURL := externalURL
	if !apiAvailable(externalURL) {
		log.Info("No external API server found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.WithError(err).Fatal("Failed to get available port")
		}
		baseURL = fmt.Sprintf("http://%s", listener.Addr().String())

		httpServer := &http.Server{Handler: newRouter(ctx, app, settings, baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Internal HTTP server error")
			}
		}()
		defer httpServer.Close()

		log.Infof("Internal HTTP server on %s", listener.Addr())
	} else {
		log.Info("MCP stdio server ready (using external HTTP server)")
	}

	mcpClient := mcp.NewClient(baseURL)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		log.WithError(err).Fatal("MCP stdio server error")
	}
}

// apiAvailable reports whether a relay API answers at baseURL
func apiAvailable(baseURL string) bool {
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
