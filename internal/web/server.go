// Package web exposes sync cycles over HTTP for the scheduler and for
// entity registration hooks.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mirrorsync "github.com/justestif/go-playlist-mirror/internal/sync"
	"github.com/justestif/go-playlist-mirror/internal/walker"
)

// DefaultAddr is the default server address.
const DefaultAddr = ":8080"

// Syncer runs one sync cycle.
type Syncer interface {
	Run(ctx context.Context, trigger walker.Trigger) (*mirrorsync.Result, error)
}

// HealthCheck reports whether the backing stores are reachable.
type HealthCheck func(ctx context.Context) error

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr string
	// WriteTimeout bounds a whole sync request. Zero selects 10 minutes.
	WriteTimeout time.Duration
	Health       HealthCheck
	Logger       *log.Logger
}

// Server is the HTTP server that triggers sync cycles.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	log      *log.Logger
}

// NewServer creates a new server running cycles through syncer.
func NewServer(syncer Syncer, cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	router := chi.NewRouter()
	s := &Server{
		router:   router,
		handlers: NewHandlers(syncer, cfg.Health, logger),
		log:      logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.Health)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/sync", s.handlers.Sync)
	s.router.Post("/entities/{source}/{entityID}/sync", s.handlers.SyncEntity)
}

// requestLogger logs one line per request.
func requestLogger(l *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"took", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Run starts the server and shuts it down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info("server stopped")
	return nil
}
