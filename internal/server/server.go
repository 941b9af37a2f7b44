// Package server exposes the engine's HTTP API: signal intake, position and
// event reads, the daily risk ledger, and the operator pause controls.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantship/tradelife/internal/domain"
	"github.com/quantship/tradelife/internal/server/handler"
	"github.com/quantship/tradelife/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Signals   *handler.SignalHandler
	Positions *handler.PositionHandler
	Events    *handler.EventHandler
	Ledger    *handler.LedgerHandler
	Pause     *handler.PauseHandler
}

// Server is the headless HTTP API server for the trade lifecycle engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (CORS, logging, rate limiting, auth) wired up. The
// limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Signal intake.
	mux.HandleFunc("POST /api/signals", handlers.Signals.Create)

	// Position endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListOpen)
	mux.HandleFunc("GET /api/positions/closed", handlers.Positions.ListClosed)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("GET /api/positions/{id}/events", handlers.Events.ListBySignal)

	// Event feed. /stream serves the durable bus stream for catch-up polling.
	mux.HandleFunc("GET /api/events", handlers.Events.List)
	mux.HandleFunc("GET /api/events/stream", handlers.Events.Stream)

	// Daily risk ledger.
	mux.HandleFunc("GET /api/ledger/today", handlers.Ledger.Today)
	mux.HandleFunc("GET /api/ledger/recent", handlers.Ledger.Recent)

	// Circuit breaker controls.
	mux.HandleFunc("GET /api/pause", handlers.Pause.Status)
	mux.HandleFunc("POST /api/pause/clear", handlers.Pause.Clear)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
