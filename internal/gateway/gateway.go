// ABOUTME: Gateway orchestrator that wires the session, hub, stream, and notify components
// ABOUTME: Manages the HTTP server, optional Tailscale listener, and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/woodstock-ai/inbox-gateway/internal/auth"
	"github.com/woodstock-ai/inbox-gateway/internal/config"
	"github.com/woodstock-ai/inbox-gateway/internal/hub"
	"github.com/woodstock-ai/inbox-gateway/internal/notify"
	"github.com/woodstock-ai/inbox-gateway/internal/session"
	"github.com/woodstock-ai/inbox-gateway/internal/store"
	"github.com/woodstock-ai/inbox-gateway/internal/stream"
	"github.com/woodstock-ai/inbox-gateway/internal/tasks"
)

// shutdownTimeout bounds graceful shutdown, including the write-behind drain.
const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the inbox-gateway server components: the
// write-behind session layer, the broadcast hub, the stream adapters, and
// the HTTP API that ties them together.
type Gateway struct {
	config      *config.Config
	store       store.Store
	tasks       *tasks.Registry
	sessions    *session.Service
	hub         *hub.Hub
	streamer    *stream.Streamer
	notifier    *notify.Notifier
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	appName string
}

// initStore creates the durable store based on config.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := tasks.NewRegistry(logger)
	sessions := session.NewService(s, registry, logger)
	eventHub := hub.New(logger)
	streamer := stream.NewStreamer(eventHub, cfg.Streaming.KeepaliveInterval, logger)
	notifier := notify.NewNotifier(cfg.Inbox.WebhookURL, cfg.Inbox.WebhookTimeout, logger)

	appName := cfg.App.Name
	if appName == "" {
		appName = "woodstock"
	}

	gw := &Gateway{
		config:   cfg,
		store:    s,
		tasks:    registry,
		sessions: sessions,
		hub:      eventHub,
		streamer: streamer,
		notifier: notifier,
		logger:   logger.With("component", "gateway"),
		appName:  appName,
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Stream endpoints - no auth, the browser widget attaches directly.
	// The global route is registered first so "global" is never routed as
	// a conversation id.
	mux.HandleFunc("GET /api/inbox/listen/global", gw.handleListenGlobal)
	mux.HandleFunc("GET /api/inbox/listen/{id}", gw.handleListenConversation)
	mux.HandleFunc("GET /api/inbox/ws/{id}", gw.handleWSConversation)

	// API endpoints - auth required if a key or JWT secret is configured
	gw.registerAPIRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	routes := map[string]http.HandlerFunc{
		"GET /api/inbox/conversations":                  g.handleListConversations,
		"GET /api/inbox/conversations/{id}/messages":    g.handleConversationMessages,
		"GET /api/inbox/conversations/{id}":             g.handleConversationMessages,
		"POST /api/inbox/messages":                      g.handleSendMessage,
		"POST /api/inbox/conversations/{id}/read":       g.handleMarkRead,
		"POST /api/inbox/conversations/{id}/unread":     g.handleMarkUnread,
		"POST /api/inbox/toggle-ai":                     g.handleToggleAI,
		"GET /api/inbox/conversation-status/{id}":       g.handleConversationStatus,
		"POST /api/sessions":                            g.handleCreateSession,
		"GET /api/sessions/{id}":                        g.handleGetSession,
		"PUT /api/sessions/{id}":                        g.handleSaveSession,
	}

	if cfg.Auth.APIKey != "" || cfg.Auth.JWTSecret != "" {
		var verifier auth.TokenVerifier
		if cfg.Auth.JWTSecret != "" {
			verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		}
		middleware := auth.Middleware(cfg.Auth.APIKey, verifier)
		for pattern, handler := range routes {
			mux.Handle(pattern, middleware(handler))
		}
		logger.Info("HTTP auth middleware enabled")
		return
	}

	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	logger.Warn("HTTP auth disabled - no api_key or jwt_secret configured")
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the gateway: closes the HTTP server, drains
// queued durable writes, then releases the hub and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Drain the write-behind queue so buffered saves reach the store
	if err := g.sessions.Flush(ctx); err != nil {
		g.logger.Warn("write-behind drain incomplete", "error", err)
		errs = appendCloseError(errs, "session drain", err)
	}

	g.hub.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "inbox-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	return g.createTailscaleHTTPListener(tsCfg)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		g.logger.Info("enabling HTTPS with configured certs on :443")
		cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("loading TLS key pair: %w", err)
		}
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the durable store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unreachable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
