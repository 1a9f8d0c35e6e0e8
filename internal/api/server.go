package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/publishcheck/internal/events"
	"github.com/mattjoyce/publishcheck/internal/job"
	"github.com/mattjoyce/publishcheck/internal/log"
	"github.com/mattjoyce/publishcheck/internal/webhook"
)

// WebhookHandler processes authenticated deliveries.
type WebhookHandler interface {
	Handle(ctx context.Context, rawBody []byte, headers http.Header) webhook.Result
}

// Launcher starts a test run without waiting for it.
type Launcher interface {
	Start(jobID string)
}

// EventHub publishes lifecycle events and serves them to SSE clients.
type EventHub interface {
	Publish(eventType string, data any)
	Subscribe() (<-chan events.Event, func())
	Since(lastID int64) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen          string
	MaxBodySize     int64
	ShutdownTimeout time.Duration
	// AllowExternalTrigger accepts manual triggers without the internal header.
	AllowExternalTrigger bool
	// SecretConfigured is reported by /healthz.
	SecretConfigured bool
	Version          string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	store     *job.Store
	webhook   WebhookHandler
	launcher  Launcher
	events    EventHub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// streamsDone is closed when shutdown begins so open event streams end.
	streamsDone chan struct{}
	stopOnce    sync.Once
}

// New creates a new API server instance. A nil logger uses the process logger.
func New(config Config, store *job.Store, hook WebhookHandler, launcher Launcher, hub EventHub, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 1 << 20
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.WithComponent("api")
	}
	return &Server{
		config:    config,
		store:     store,
		webhook:   hook,
		launcher:  launcher,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),

		streamsDone: make(chan struct{}),
	}
}

// Start serves on config.Listen until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled (blocking).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: /api/events streams stay open.
		IdleTimeout: 60 * time.Second,
	}
	// Shutdown waits for active handlers, and event streams never finish on their own.
	s.server.RegisterOnShutdown(s.stopStreams)

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) stopStreams() {
	s.stopOnce.Do(func() { close(s.streamsDone) })
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
		r.Post("/run-tests", s.handleRunTests)
		r.Get("/test-status/{jobID}", s.handleTestStatus)
		r.Get("/reports/{jobID}", s.handleReport)
		r.Get("/report-text/{jobID}", s.handleReportText)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads)
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
