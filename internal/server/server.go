// Package server wires the HTTP and WebSocket API for the cast market.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/castmarket/castmarket/internal/server/handler"
	"github.com/castmarket/castmarket/internal/server/middleware"
	"github.com/castmarket/castmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Wagers  *handler.WagerHandler
	Oracle  *handler.OracleHandler
	Stats   *handler.StatsHandler
	Metrics http.Handler // Prometheus scrape endpoint; may be nil
}

// Server is the HTTP + WebSocket API server for the cast market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Wager endpoints.
	mux.HandleFunc("POST /api/wagers", handlers.Wagers.PlaceWager)
	mux.HandleFunc("GET /api/wagers", handlers.Wagers.ListWagers)
	mux.HandleFunc("GET /api/wagers/{id}", handlers.Wagers.GetWager)

	// Operator endpoints. These check the operator secret per request on top
	// of the API-key middleware.
	mux.HandleFunc("POST /api/resolve", handlers.Oracle.Resolve)
	mux.HandleFunc("GET /api/resolve/eligible", handlers.Oracle.ListEligible)
	mux.HandleFunc("POST /api/wagers/{id}/cancel", handlers.Oracle.Cancel)

	// Subject and bettor lookups.
	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)
	mux.HandleFunc("GET /api/users/{fid}", handlers.Wagers.GetUser)
	mux.HandleFunc("GET /api/bettors/{address}", handlers.Wagers.GetBettor)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(20, 40)(h)
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
