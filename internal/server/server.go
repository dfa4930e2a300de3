// Package server exposes the monitoring API: probe history, show runs,
// job health, alert state, and the marathon and pause controls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/campusradio/airmon/internal/alert"
	"github.com/campusradio/airmon/internal/health"
	"github.com/campusradio/airmon/internal/schedule"
	"github.com/campusradio/airmon/internal/store"
)

// cacheTTL bounds how stale a cached read response may be. Probe data
// changes on a minutes-scale cadence, so a short TTL keeps dashboard
// polling off the store.
const cacheTTL = 10 * time.Second

// Server is the HTTP monitoring and control surface.
type Server struct {
	addr      string
	store     store.Store
	health    *health.Registry
	alerts    *alert.Engine
	recorder  *schedule.Recorder
	marathons *schedule.MarathonController
	logger    *slog.Logger

	srv       *http.Server
	router    *http.ServeMux
	cache     *gocache.Cache
	startTime time.Time

	mu      sync.RWMutex
	started bool
}

// New creates a server. recorder and marathons may be nil; their
// endpoints then return 503.
func New(
	addr string,
	st store.Store,
	healthReg *health.Registry,
	alerts *alert.Engine,
	recorder *schedule.Recorder,
	marathons *schedule.MarathonController,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:      addr,
		store:     st,
		health:    healthReg,
		alerts:    alerts,
		recorder:  recorder,
		marathons: marathons,
		logger:    logger,
		router:    http.NewServeMux(),
		cache:     gocache.New(cacheTTL, time.Minute),
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("GET /api/health", s.handleHealth)
	s.router.HandleFunc("GET /api/probes", s.cached(s.handleListProbes))
	s.router.HandleFunc("GET /api/runs", s.cached(s.handleListRuns))
	s.router.HandleFunc("GET /api/runs/{id}/logs", s.cached(s.handleRunLogs))
	s.router.HandleFunc("GET /api/jobs", s.handleJobHealth)
	s.router.HandleFunc("POST /api/jobs/{name}/reset", s.handleResetJob)
	s.router.HandleFunc("GET /api/alerts", s.handleAlertState)
	s.router.HandleFunc("GET /api/schedule", s.cached(s.handleListShows))
	s.router.HandleFunc("GET /api/marathons", s.handleListMarathons)
	s.router.HandleFunc("POST /api/marathons", s.handleScheduleMarathon)
	s.router.HandleFunc("DELETE /api/marathons/{id}", s.handleCancelMarathon)
	s.router.HandleFunc("GET /api/recording", s.handleRecordingStatus)
	s.router.HandleFunc("POST /api/recording/pause", s.handlePauseRecording)
	s.router.HandleFunc("POST /api/recording/resume", s.handleResumeRecording)
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.loggingMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server", "reason", ctx.Err())
		return s.Stop(context.Background())
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.started = false
	s.logger.Info("HTTP server stopped")
	return nil
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.router)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Uptime returns the server uptime as a compact string.
func (s *Server) Uptime() string {
	duration := time.Since(s.startTime)
	hours := int(duration.Hours())
	minutes := int(duration.Minutes()) % 60
	seconds := int(duration.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
