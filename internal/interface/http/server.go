// Package http implements the REST API of the tutor orchestrator: the
// orchestration cycle, teaching turns, session registration and reset,
// feedback ingestion, health probes, and Prometheus metrics.
package http

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alem-hub/tutor-orchestrator/internal/application/command"
	"github.com/alem-hub/tutor-orchestrator/internal/application/query"
	"github.com/alem-hub/tutor-orchestrator/internal/infrastructure/external/collaborator"
	"github.com/alem-hub/tutor-orchestrator/internal/interface/http/handlers"
	"github.com/alem-hub/tutor-orchestrator/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of request bodies (0 = unlimited).
	MaxBodyBytes int64

	// AllowedOrigins - allowed origins for CORS (empty disables CORS).
	AllowedOrigins []string

	// EnableMetrics - expose the Prometheus registry at MetricsPath.
	EnableMetrics bool
	MetricsPath   string

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int
	RateLimitBurst     int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       120 * time.Second, // collaborator calls run inside the request
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		AllowedOrigins:     []string{"*"},
		EnableMetrics:      true,
		MetricsPath:        "/metrics",
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// MetricsExporter serves the Prometheus registry and records HTTP metrics.
type MetricsExporter interface {
	handlers.HTTPObserver
	Handler() http.Handler
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	// Command Handlers (CQRS Write Side)
	Orchestrate    *command.OrchestrateHandler
	TeachingTurn   *command.TeachingTurnHandler
	RecordFeedback *command.RecordFeedbackHandler
	ResetSession   *command.ResetSessionHandler
	CreateSession  *command.CreateSessionHandler

	// Query Handlers (CQRS Read Side)
	GetSessionState  *query.GetSessionStateHandler
	GetTeachingState *query.GetTeachingStateHandler

	HealthChecker handlers.HealthChecker
	Metrics       MetricsExporter

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.HealthChecker == nil {
		deps.HealthChecker = handlers.NewNoopHealthChecker()
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: chi.NewRouter(),
		logger: deps.Logger.With(logger.Component("http")),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	r := s.router

	// Порядок важен: request id нужен логу, лог должен видеть 500 от recovery.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.AccessLog(s.logger, s.observer()))
	r.Use(s.recoveryMiddleware)
	r.Use(s.requestContext)
	r.Use(handlers.SecurityHeadersMiddleware)
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(handlers.CORS(s.config.AllowedOrigins))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		handlers.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// Health Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	if s.config.EnableMetrics && s.deps.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.deps.Metrics.Handler())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API Endpoints (rate limited)
	// ─────────────────────────────────────────────────────────────────────────
	r.Group(func(r chi.Router) {
		if s.config.RateLimitPerMinute > 0 {
			r.Use(handlers.NewIPRateLimiter(s.config.RateLimitPerMinute, s.config.RateLimitBurst).Middleware)
		}
		r.Use(handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))

		r.Post("/orchestrate", s.handleOrchestrate)
		r.Get("/orchestrate", s.handleGetSessionState)
		r.Post("/orchestrate/teaching", s.handleTeachingTurn)
		r.Get("/orchestrate/teaching", s.handleGetTeachingState)
		r.Post("/orchestrate/reset", s.handleResetSession)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/feedback", s.handleRecordFeedback)
	})
}

func (s *Server) observer() handlers.HTTPObserver {
	if s.deps.Metrics == nil {
		return nil
	}
	return s.deps.Metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestContext echoes the request id and makes it visible to the request
// logger and to outbound collaborator calls.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set(middleware.RequestIDHeader, id)

		ctx := collaborator.WithRequestID(r.Context(), id)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					logger.Any("error", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				)
				handlers.WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
