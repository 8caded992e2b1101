package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/harun/iris/internal/observability"
	"github.com/harun/iris/pkg/session"
	"github.com/rs/zerolog"
)

// Server is the inbound HTTP surface
type Server struct {
	options     Options
	analyzer    Analyzer
	handler     http.Handler
	server      *http.Server
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startTime   time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// NewServer creates a new API server
func NewServer(options Options, analyzer Analyzer, logger zerolog.Logger) (*Server, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}

	if options.Port == 0 {
		options.Port = 8000
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 15 * time.Second
	}
	if options.MaxUploadBytes == 0 {
		options.MaxUploadBytes = 10 << 20
	}
	if options.AllowedOrigin == "" {
		options.AllowedOrigin = "*"
	}
	if options.CookiePath == "" {
		options.CookiePath = "/"
	}
	if options.CookieMaxAge == 0 {
		options.CookieMaxAge = session.DefaultMaxIdle
	}
	if options.MetricsPath == "" {
		options.MetricsPath = "/metrics"
	}

	observability.EnsureRegistered()

	s := &Server{
		options:     options,
		analyzer:    analyzer,
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
		startTime:   time.Now(),
	}
	s.handler = s.requestIDMiddleware(
		s.loggingMiddleware(
			s.shutdownMiddleware(
				s.corsMiddleware(
					s.preflightMiddleware(s.routes()),
				),
			),
		),
	)

	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.options.MetricsEnabled {
		r.Handle(s.options.MetricsPath, observability.MetricsHandler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimitMiddleware)
	// Every method reaches the analyzer, which rejects anything but POST.
	api.HandleFunc("/analyze", s.handleAnalyze)
	api.HandleFunc("/memory", s.handleMemory).Methods(http.MethodGet)
	api.HandleFunc("/memory/{session_id}", s.handleMemory).Methods(http.MethodGet)
	api.HandleFunc("/memory", s.handleClearMemory).Methods(http.MethodDelete)
	api.HandleFunc("/memory/{session_id}", s.handleClearMemory).Methods(http.MethodDelete)

	if s.options.MemoryStore != nil {
		memory := r.PathPrefix("/memory/v1").Subrouter()
		memory.Use(s.rateLimitMiddleware)
		session.RegisterRoutes(memory, s.options.MemoryStore, s.logger)
	}

	return r
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.options.Host, fmt.Sprintf("%d", s.options.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop
func (s *Server) Serve(ln net.Listener) error {
	s.shutdownMu.Lock()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.options.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.options.WriteTimeout,
	}
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("metrics", s.options.MetricsEnabled).
		Bool("memory_server", s.options.MemoryStore != nil).
		Msg("Starting API server")

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve API: %w", err)
	}
	return nil
}

// Stop rejects new requests and waits for in-flight requests to finish,
// bounded by the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	srv := s.server
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down API server")
	s.rateLimiter.Stop()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Shutdown timeout reached, forcing close")
		_ = srv.Close()
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.logger.Info().Msg("API server stopped")
	return nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}
