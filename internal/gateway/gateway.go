// ABOUTME: Gateway orchestrator wiring store, broker, presence, and HTTP/WebSocket servers
// ABOUTME: Owns component lifecycle: construction, Run, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lumora/deskwire/internal/auth"
	"github.com/lumora/deskwire/internal/broker"
	"github.com/lumora/deskwire/internal/config"
	"github.com/lumora/deskwire/internal/notify"
	"github.com/lumora/deskwire/internal/presence"
	"github.com/lumora/deskwire/internal/publisher"
	"github.com/lumora/deskwire/internal/service"
	"github.com/lumora/deskwire/internal/store"
)

// Gateway orchestrates the deskwire server components: the SQLite store, the
// event broker, presence tracking, and the HTTP server carrying both the JSON
// API and the WebSocket endpoint.
type Gateway struct {
	config     *config.Config
	store      store.Store
	broker     broker.Broker
	presence   *presence.Tracker
	publisher  *publisher.Publisher
	service    *service.Service
	notify     *notify.Service
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// New constructs a Gateway from configuration. The store and broker are
// opened eagerly so misconfiguration fails at startup, not at first request.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	b, err := newBroker(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	tracker := presence.NewTracker(logger)
	pub := publisher.New(st, b, tracker, logger)
	svc := service.New(st, pub, tracker, logger)

	g := &Gateway{
		config:    cfg,
		store:     st,
		broker:    b,
		presence:  tracker,
		publisher: pub,
		service:   svc,
		notify:    notify.NewService(st),
		verifier:  auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:    logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// newBroker selects the event transport from configuration.
func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	switch cfg.Broker.Kind {
	case "amqp":
		b, err := broker.NewAMQP(cfg.Broker.URL, cfg.Broker.Exchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to amqp broker: %w", err)
		}
		return b, nil
	default:
		return broker.NewMemory(logger), nil
	}
}

// buildMux registers all HTTP routes.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("POST /api/conversations", g.authenticated(g.handleStartConversation))
	mux.HandleFunc("GET /api/conversations", g.authenticated(g.handleListConversations))
	mux.HandleFunc("GET /api/conversations/{id}", g.authenticated(g.handleGetConversation))
	mux.HandleFunc("POST /api/conversations/{id}/messages", g.authenticated(g.handleSendMessage))
	mux.HandleFunc("POST /api/conversations/{id}/read", g.authenticated(g.handleMarkRead))
	mux.HandleFunc("POST /api/conversations/{id}/assign", g.authenticated(g.handleAssign))
	mux.HandleFunc("POST /api/conversations/{id}/close", g.authenticated(g.handleCloseConversation))
	mux.HandleFunc("POST /api/conversations/{id}/reopen", g.authenticated(g.handleReopenConversation))
	mux.HandleFunc("DELETE /api/messages/{id}", g.authenticated(g.handleDeleteMessage))

	mux.HandleFunc("GET /api/notifications", g.authenticated(g.handleListNotifications))
	mux.HandleFunc("POST /api/notifications/read-all", g.authenticated(g.handleMarkAllNotificationsRead))
	mux.HandleFunc("POST /api/notifications/{id}/read", g.authenticated(g.handleMarkNotificationRead))
	mux.HandleFunc("DELETE /api/notifications/{id}", g.authenticated(g.handleDeleteNotification))
	mux.HandleFunc("DELETE /api/notifications", g.authenticated(g.handleClearNotifications))

	mux.HandleFunc("GET /ws", g.handleWebSocket)

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		g.logger.Info("shutting down")
		return g.Shutdown()
	}
}

// Shutdown stops the HTTP server and releases store and broker resources.
func (g *Gateway) Shutdown() error {
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if err := g.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("broker close: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
