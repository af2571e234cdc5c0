// Package server is the HTTP and WebSocket front of the ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascade/internal/auth"
	"github.com/alanyoungcy/cascade/internal/domain"
	"github.com/alanyoungcy/cascade/internal/server/handler"
	"github.com/alanyoungcy/cascade/internal/server/middleware"
	"github.com/alanyoungcy/cascade/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string

	// RateLimit is requests per RateWindow per client; 0 disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Owners  *handler.OwnerHandler
	Admin   *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in the middleware chain:
// CORS, request id, logging, caller identity, then rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, authn auth.Authenticator, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, handlers, hub)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Caller(authn, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.RequestID()(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Routes registers every endpoint on mux.
func Routes(mux *http.ServeMux, h Handlers, hub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", h.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/children", h.Markets.Children)
	mux.HandleFunc("GET /api/markets/{id}/bets", h.Markets.Bets)
	mux.HandleFunc("POST /api/markets/{id}/bets", h.Markets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/estimate", h.Markets.Estimate)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/claim", h.Markets.Claim)
	mux.HandleFunc("POST /api/operations", h.Markets.Operation)

	mux.HandleFunc("GET /api/owners/{owner}/bets", h.Owners.Bets)
	mux.HandleFunc("GET /api/owners/{owner}/balance", h.Owners.Balance)

	mux.HandleFunc("GET /api/admin", h.Admin.Admin)
	mux.HandleFunc("POST /api/admin/deposits", h.Admin.Deposit)
	mux.HandleFunc("GET /api/leaderboard", h.Admin.Leaderboard)
	mux.HandleFunc("GET /api/events", h.Admin.Events)
	mux.HandleFunc("GET /api/audit", h.Admin.History)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
