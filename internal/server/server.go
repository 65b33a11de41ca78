package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polypaper/internal/domain"
	"github.com/alanyoungcy/polypaper/internal/server/handler"
	"github.com/alanyoungcy/polypaper/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Bind        string
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// PublicReads serves GET routes without the API key.
	PublicReads bool
	// RateLimitPerMin applies per client when a limiter is supplied. Control
	// routes get a tenth of it, at least one.
	RateLimitPerMin int
}

// controlShare divides the read budget into the control budget.
const controlShare = 10

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Engine *handler.EngineHandler
	Paper  *handler.PaperHandler
}

// Server is the JSON dashboard API over the paper engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler:      Routes(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http")),
	}
}

// Routes builds the routed, middleware-wrapped handler.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Engine.GetStatus)
	mux.HandleFunc("POST /api/engine/start", handlers.Engine.Start)
	mux.HandleFunc("POST /api/engine/stop", handlers.Engine.Stop)
	mux.HandleFunc("GET /api/window", handlers.Engine.GetWindow)
	mux.HandleFunc("GET /api/opportunities", handlers.Engine.ListOpportunities)
	mux.HandleFunc("GET /api/series", handlers.Engine.GetSeries)
	mux.HandleFunc("GET /api/labels", handlers.Engine.ListLabels)

	mux.HandleFunc("GET /api/paper/overview", handlers.Paper.Overview)
	mux.HandleFunc("GET /api/paper/{tier}/positions", handlers.Paper.Positions)
	mux.HandleFunc("GET /api/paper/{tier}/stats", handlers.Paper.Stats)
	mux.HandleFunc("GET /api/paper/{tier}/trades", handlers.Paper.Trades)
	mux.HandleFunc("GET /api/paper/{tier}/equity", handlers.Paper.Equity)
	mux.HandleFunc("POST /api/paper/{tier}/reset", handlers.Paper.Reset)

	// Rate limiting runs inside Auth so buckets are keyed by API key.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, middleware.Budget{
			Reads:    cfg.RateLimitPerMin,
			Controls: max(1, cfg.RateLimitPerMin/controlShare),
			Window:   time.Minute,
		}, logger)(h)
	}
	h = middleware.Auth(middleware.Access{
		APIKey:    cfg.APIKey,
		Public:    []string{"/api/health"},
		OpenReads: cfg.PublicReads,
	})(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Addr is the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

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
