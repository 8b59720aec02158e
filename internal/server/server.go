// Package server is the HTTP gateway the web client talks to.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
	"github.com/alanyoungcy/bagrabridge/internal/metrics"
	"github.com/alanyoungcy/bagrabridge/internal/server/handler"
	"github.com/alanyoungcy/bagrabridge/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // if empty, authentication is disabled
	RatePerMinute int    // per client IP; 0 disables
	ExposeMetrics bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Admin may be nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Orders   *handler.OrderHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
}

// Server is the bridge's HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter is only used when cfg.RatePerMinute > 0.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, limiter, m, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 3 * time.Minute, // order placement can wait on a mint confirmation
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{ticker}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{ticker}/candlesticks", handlers.Markets.Candlesticks)
	mux.HandleFunc("GET /api/markets/{ticker}/orderbook", handlers.Markets.Orderbook)
	mux.HandleFunc("GET /api/events/{ticker}", handlers.Markets.GetEvent)
	mux.HandleFunc("GET /api/positions", handlers.Markets.ListPositions)
	mux.HandleFunc("GET /api/balance", handlers.Markets.Balance)

	mux.HandleFunc("POST /api/orders", handlers.Orders.CreateOrder)
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("DELETE /api/orders/{id}", handlers.Orders.CancelOrder)
	mux.HandleFunc("GET /api/fills", handlers.Orders.ListFills)

	mux.HandleFunc("GET /api/shares/{address}", handlers.Accounts.Shares)
	mux.HandleFunc("GET /api/vault/{address}", handlers.Accounts.Vault)

	if handlers.Admin != nil {
		mux.HandleFunc("GET /api/admin/dead-letters", handlers.Admin.DeadLetters)
		mux.HandleFunc("POST /api/admin/dead-letters/replay", handlers.Admin.Replay)
		mux.HandleFunc("GET /api/admin/audit", handlers.Admin.Audit)
	}
	if cfg.ExposeMetrics {
		mux.Handle("GET /metrics", m.Handler())
	}

	var h http.Handler = mux
	h = middleware.Metrics(m)(h)
	if cfg.RatePerMinute > 0 && limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RatePerMinute, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/health", "/api/health", "/metrics")(h)
	h = middleware.Logging(logger.With(slog.String("component", "http")))(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
