// ABOUTME: Gateway orchestrator that wires the store, session handler, and HTTP API
// ABOUTME: Manages server lifecycle, setup mode, and SIGHUP-driven reconfiguration

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/perimeterlab/fleetgate/internal/auth"
	"github.com/perimeterlab/fleetgate/internal/config"
	"github.com/perimeterlab/fleetgate/internal/recon"
	"github.com/perimeterlab/fleetgate/internal/session"
	"github.com/perimeterlab/fleetgate/internal/store"
	"github.com/perimeterlab/fleetgate/internal/telemetry"
	"github.com/perimeterlab/fleetgate/internal/usb"
)

// command is a control-loop instruction. All reconfiguration flows
// through the commands channel so state changes happen in one place.
type command int

const (
	// commandReload re-reads the config file and applies what can change
	// at runtime: the log level, and the store wiring if the gateway is
	// still in setup mode.
	commandReload command = iota
)

// Gateway orchestrates the fleetgate server components. It owns the HTTP
// server that carries both the operator API and the agent channels.
//
// Until the configuration supplies a database path the gateway runs in
// setup mode: only /health and /api/check-setup respond, everything else
// returns 503. A reload that supplies a path wires the full API.
type Gateway struct {
	configPath string
	logLevel   *slog.LevelVar
	logger     *slog.Logger

	mu      sync.RWMutex
	cfg     *config.Config
	store   store.Store
	manager *session.Manager
	router  *telemetry.Router
	usb     *usb.Reconciler
	recon   *recon.Engine
	api     http.Handler

	httpServer *http.Server
	commands   chan command
}

// New creates a Gateway from the given configuration. configPath is
// re-read on reload; pass "" to disable reloading. logLevel may be nil
// if the log level should not change at runtime.
func New(cfg *config.Config, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		configPath: configPath,
		logLevel:   logLevel,
		logger:     logger.With("component", "gateway"),
		cfg:        cfg,
		commands:   make(chan command, 1),
	}

	if cfg.Database.Path != "" {
		if err := g.wireAPI(cfg); err != nil {
			return nil, err
		}
	} else {
		g.logger.Warn("no database path configured - starting in setup mode")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/check-setup", g.handleCheckSetup)
	mux.HandleFunc("/", g.dispatch)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// wireAPI builds the full component stack and API routes. Called once at
// startup when a database path is configured, or later from the control
// loop when a reload supplies one.
func (g *Gateway) wireAPI(cfg *config.Config) error {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	manager := session.NewManager(g.logger.With("component", "session-manager"))
	router := telemetry.NewRouter(s, g.logger)
	reconciler := usb.NewReconciler(s, g.logger)
	engine := recon.NewEngine(s, g.logger)

	sessionHandler := session.NewHandler(
		manager, router, reconciler,
		cfg.Session.IdleTimeout, cfg.Session.PingInterval,
		g.logger,
	)

	protect := auth.Middleware(verifier)

	api := http.NewServeMux()
	api.HandleFunc("/api/scan", g.handleScan)
	api.HandleFunc("/api/visualizer", g.handleVisualizer)
	api.Handle("/api/agents", protect(http.HandlerFunc(g.handleAgents)))
	api.Handle("/api/agents/", protect(http.HandlerFunc(g.handleAgentRoutes)))
	api.Handle("/api/usb", protect(http.HandlerFunc(g.handleUSBDevices)))
	api.Handle("/api/usb/status", protect(http.HandlerFunc(g.handleUSBStatus)))
	api.Handle("/api/reconciliation", protect(http.HandlerFunc(g.handleReconciliation)))
	api.Handle("/ws/agent", sessionHandler)

	g.mu.Lock()
	g.cfg = cfg
	g.store = s
	g.manager = manager
	g.router = router
	g.usb = reconciler
	g.recon = engine
	g.api = api
	g.mu.Unlock()

	g.logger.Info("gateway wired", "db_path", cfg.Database.Path)
	return nil
}

// ready reports whether the full API is wired.
func (g *Gateway) ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.api != nil
}

// dispatch routes requests to the wired API, or rejects them while the
// gateway is still in setup mode.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	api := g.api
	g.mu.RUnlock()

	if api == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "setup not complete")
		return
	}
	api.ServeHTTP(w, r)
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go g.controlLoop(ctx, sigCh)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// controlLoop applies reconfiguration commands one at a time. SIGHUP is
// translated into a reload command here rather than handled inline, so
// every configuration change takes the same path.
func (g *Gateway) controlLoop(ctx context.Context, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			g.logger.Info("received SIGHUP")
			g.Reload()
		case cmd := <-g.commands:
			switch cmd {
			case commandReload:
				g.reload()
			}
		}
	}
}

// Reload queues a configuration reload. A reload already queued is
// sufficient, so additional requests are dropped.
func (g *Gateway) Reload() {
	select {
	case g.commands <- commandReload:
	default:
	}
}

// reload re-reads the config file, applies the log level, and wires the
// full API if the gateway was waiting on a database path.
func (g *Gateway) reload() {
	if g.configPath == "" {
		g.logger.Warn("reload requested but no config path available")
		return
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		g.logger.Error("reload failed, keeping current configuration", "error", err)
		return
	}

	if g.logLevel != nil {
		g.logLevel.Set(parseLogLevel(cfg.Logging.Level))
	}

	if !g.ready() && cfg.Database.Path != "" {
		if err := g.wireAPI(cfg); err != nil {
			g.logger.Error("reload failed to wire API", "error", err)
			return
		}
	} else {
		g.mu.Lock()
		g.cfg = cfg
		g.mu.Unlock()
	}

	g.logger.Info("configuration reloaded", "level", cfg.Logging.Level)
}

// parseLogLevel maps a config level string to a slog level, defaulting
// to info for unknown values.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.mu.RLock()
	s := g.store
	g.mu.RUnlock()
	if s != nil {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
