package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
	"github.com/alanyoungcy/swapbot/internal/server/handler"
	"github.com/alanyoungcy/swapbot/internal/server/middleware"
	"github.com/alanyoungcy/swapbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminToken  string
	// RateLimit requests per RateWindow per wallet on trade routes.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Strategies may be nil when the strategy subsystem is disabled.
type Handlers struct {
	Health     *handler.HealthHandler
	Trades     *handler.TradeHandler
	Orders     *handler.OrderHandler
	Portfolio  *handler.PortfolioHandler
	Strategies *handler.StrategyHandler
	Admin      *handler.AdminHandler
	Metrics    http.Handler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux with logging and CORS.
// Wallet routes require a session token; admin routes require the admin
// token. limiter may be nil.
func NewServer(
	cfg Config,
	handlers Handlers,
	verifier middleware.TokenVerifier,
	limiter domain.RateLimiter,
	hub *ws.Hub,
	logger *slog.Logger,
) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	// Probes and metrics (no auth).
	mux.HandleFunc("GET /healthz/live", handlers.Health.Live)
	mux.HandleFunc("GET /healthz/ready", handlers.Health.Ready)
	mux.HandleFunc("GET /api/health", handlers.Health.Live)
	mux.HandleFunc("GET /api/status", handlers.Health.Status)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	wallet := middleware.Auth(verifier)
	trade := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if limiter != nil && cfg.RateLimit > 0 {
			next = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(next)
		}
		return wallet(next)
	}
	authed := func(h http.HandlerFunc) http.Handler { return wallet(h) }

	// Trades.
	mux.Handle("POST /api/trades/prompt", trade(handlers.Trades.Prompt))
	mux.Handle("POST /api/trades/direct", trade(handlers.Trades.Direct))

	// Orders.
	mux.Handle("GET /api/orders", authed(handlers.Orders.ListOrders))
	mux.Handle("GET /api/orders/{id}", authed(handlers.Orders.GetOrder))
	mux.Handle("DELETE /api/orders/{id}", authed(handlers.Orders.CancelOrder))

	// Portfolio.
	mux.Handle("GET /api/portfolio", authed(handlers.Portfolio.GetPortfolio))
	mux.Handle("POST /api/portfolio/refresh", trade(handlers.Portfolio.RefreshPortfolio))

	// Strategies.
	if s := handlers.Strategies; s != nil {
		mux.Handle("GET /api/strategies", authed(s.ListStrategies))
		mux.Handle("POST /api/strategies", authed(s.CreateStrategy))
		mux.Handle("GET /api/strategies/{id}", authed(s.GetStrategy))
		mux.Handle("POST /api/strategies/{id}/pause", authed(s.PauseStrategy))
		mux.Handle("POST /api/strategies/{id}/resume", authed(s.ResumeStrategy))
		mux.Handle("GET /api/strategies/{id}/performance", authed(s.GetPerformance))
	}

	// Admin.
	admin := middleware.AdminOnly(cfg.AdminToken)
	mux.Handle("POST /api/admin/stop", admin(http.HandlerFunc(handlers.Admin.Stop)))
	mux.Handle("POST /api/admin/resume", admin(http.HandlerFunc(handlers.Admin.Resume)))
	mux.Handle("GET /api/admin/limits", admin(http.HandlerFunc(handlers.Admin.GetLimits)))
	mux.Handle("PUT /api/admin/limits", admin(http.HandlerFunc(handlers.Admin.UpdateLimits)))
	mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(handlers.Admin.ListAudit)))

	// WebSocket endpoint. The hub authenticates from the token query param.
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Prompt trades wait on the LLM.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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
