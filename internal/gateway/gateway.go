// ABOUTME: Gateway orchestrator that coordinates the HTTP and optional gRPC health servers
// ABOUTME: Wires store, ingestion pipeline, conversation services and realtime registry, and owns their lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/2389/coven-inbox/internal/auth"
	"github.com/2389/coven-inbox/internal/channel"
	"github.com/2389/coven-inbox/internal/config"
	"github.com/2389/coven-inbox/internal/contact"
	"github.com/2389/coven-inbox/internal/conversation"
	"github.com/2389/coven-inbox/internal/dedupe"
	"github.com/2389/coven-inbox/internal/ingest"
	"github.com/2389/coven-inbox/internal/realtime"
	"github.com/2389/coven-inbox/internal/store"
)

// Gateway orchestrates the coven-inbox server components.
type Gateway struct {
	config        *config.Config
	store         store.Store
	conversations *conversation.Service
	pipeline      *ingest.Pipeline
	registry      *realtime.Registry
	notifier      *realtime.Notifier
	window        *dedupe.Window
	renderer      *markdownRenderer
	handler       http.Handler
	httpServer    *http.Server
	logger        *slog.Logger

	// grpcServer and health are nil when server.grpc_addr is empty.
	grpcServer *grpc.Server
	health     *health.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the configured SQLite database and applies migrations.
func initStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	s, err := store.NewSQLiteStoreWithOptions(store.Options{
		Path:   cfg.Database.Path,
		Driver: cfg.Database.Driver,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := initStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway around an already opened store. The gateway
// takes ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := realtime.NewRegistry(realtime.Options{
		BufferSize:      cfg.Realtime.BufferSize,
		DeliveryTimeout: cfg.Realtime.DeliveryTimeout,
		Logger:          logger,
	})
	notifier := realtime.NewNotifier(registry, logger)

	conversations := conversation.New(s, notifier, conversation.Options{
		Lifecycle: conversation.LifecycleOptions{
			EnforceAssignmentEdge: cfg.Lifecycle.EnforceAssignmentEdge,
		},
	}, logger)

	window := dedupe.New(cfg.Ingest.DedupeTTL, cfg.Ingest.DedupeSize)
	pipeline := ingest.New(ingest.Deps{
		Store:       s,
		Normalizers: channel.DefaultRegistry(),
		Contacts:    contact.NewResolver(s, logger),
		Router:      conversations.Router,
		Messages:    conversations.Messages,
		Notifier:    notifier,
		Window:      window,
	}, ingest.Options{Timeout: cfg.Ingest.Timeout, Logger: logger})

	gw := &Gateway{
		config:        cfg,
		store:         s,
		conversations: conversations,
		pipeline:      pipeline,
		registry:      registry,
		notifier:      notifier,
		window:        window,
		renderer:      newMarkdownRenderer(),
		logger:        logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Webhooks authenticate with the inbox's own token
	mux.HandleFunc("POST /inboxes/{inboxId}/webhooks/{provider}", gw.handleWebhook)

	if err := gw.registerAPIRoutes(mux); err != nil {
		registry.Close()
		window.Close()
		return nil, err
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers the agent API with JWT auth, or with trusted
// dev headers when no jwt_secret is configured.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) error {
	var authMiddleware func(http.Handler) http.Handler
	if g.config.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(g.config.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		authMiddleware = auth.HTTPAuthMiddleware(verifier)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		authMiddleware = auth.DevAuthMiddleware()
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured, trusting " + auth.DevAgentHeader)
	}
	adminMiddleware := auth.RequireAdminHTTP()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}
	handleAdmin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(adminMiddleware(h)))
	}

	handle("GET /api/inboxes/{inboxId}/conversations", g.handleListConversations)
	handle("GET /api/conversations/{id}", g.handleGetConversation)
	handle("GET /api/conversations/{id}/messages", g.handleListMessages)
	handle("POST /api/conversations/{id}/messages", g.handlePostMessage)
	handle("POST /api/conversations/{id}/status", g.handleUpdateStatus)
	handle("POST /api/conversations/{id}/assignment", g.handleAssign)
	handle("POST /api/conversations/{id}/priority", g.handleSetPriority)
	handle("POST /api/conversations/{id}/seen", g.handleMarkSeen)

	mux.Handle("GET /api/realtime", authMiddleware(realtime.NewWebSocketHandler(g.registry, authorizeTopic, g.logger)))
	handleAdmin("GET /api/realtime/subscriptions", g.handleListSubscriptions)
	handleAdmin("POST /api/inboxes/{inboxId}/notify", g.handleNotifyAgents)
	return nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// setupListeners creates the HTTP listener and, when configured, the gRPC one.
func (g *Gateway) setupListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the error of a failed server.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, grpcListener, err := g.setupListeners()
	if err != nil {
		return err
	}

	errCh := g.startServers(httpListener, grpcListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers, tears down every realtime subscription, and
// releases the store. Later calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error

	// Websocket connections are hijacked and not tracked by the HTTP
	// server; closing the registry sends them a going-away close.
	g.registry.Close()

	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.shutdownGRPCServer(ctx)

	g.window.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers and the registry is open.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.registry.Done():
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	default:
	}

	inboxes, err := g.store.ListInboxes(r.Context())
	if err != nil {
		g.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d inboxes, %d subscriptions)", len(inboxes), g.registry.Len())
}
