package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/iris/internal/config"
	"github.com/harun/iris/internal/logger"
	"github.com/harun/iris/internal/observability"
	"github.com/harun/iris/internal/tracing"
	"github.com/harun/iris/pkg/analyze"
	"github.com/harun/iris/pkg/api"
	"github.com/harun/iris/pkg/session"
	"github.com/harun/iris/pkg/vision"
)

// Daemon represents the Iris service process
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	store     session.Store
	sweeper   *session.Sweeper
	providers *vision.Factory
	analyzer  *analyze.Analyzer
	server    *api.Server
	lifecycle *LifecycleManager

	serveErr chan error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon with every component built but nothing started
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config:   cfg,
		logger:   log,
		version:  version,
		serveErr: make(chan error, 1),
	}

	if cfg.Tracing.Enabled {
		traceFile := cfg.Tracing.File
		if traceFile != "" && !filepath.IsAbs(traceFile) {
			traceFile = filepath.Join(cfg.DataDir, traceFile)
		}
		if err := tracing.InitOpenTelemetry(tracing.Options{
			ServiceName:    "iris",
			ServiceVersion: version,
			File:           traceFile,
			MaxSizeMB:      cfg.Logging.MaxSize,
			MaxBackups:     cfg.Logging.MaxBackups,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Str("file", traceFile).Msg("Tracing initialized")
		}
	}

	if cfg.Memory.AuditFile != "" {
		auditFile := cfg.Memory.AuditFile
		if !filepath.IsAbs(auditFile) {
			auditFile = filepath.Join(cfg.DataDir, auditFile)
		}
		if err := observability.InitAuditLogger(auditFile, cfg.Logging.MaxSize, cfg.Logging.MaxBackups); err != nil {
			d.shutdownTracing()
			return nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
	}

	if err := d.initializeComponents(); err != nil {
		d.shutdownTracing()
		return nil, err
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) initializeComponents() error {
	cfg := d.config
	componentLog := d.logger.Component

	switch cfg.Memory.Backend {
	case config.BackendRemote:
		d.store = session.NewRemoteStore(cfg.Memory.RemoteURL)
		d.logger.Info().Str("remote_url", cfg.Memory.RemoteURL).Msg("Using remote session store")
	default:
		d.store = session.NewMemoryStore(session.WithLogger(componentLog("session_store")))
		d.logger.Info().Msg("Using in-memory session store")
	}

	if cfg.Memory.SweepSchedule != "" {
		sweeper, err := session.NewSweeper(d.store, cfg.Memory.SweepSchedule, cfg.Memory.MaxIdleDuration(), componentLog("session"))
		if err != nil {
			return fmt.Errorf("failed to create session sweeper: %w", err)
		}
		d.sweeper = sweeper
	}

	d.providers = vision.NewFactory(vision.Settings{
		Name:    cfg.Provider.Name,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		BaseURL: cfg.Provider.BaseURL,
	})
	if _, err := d.providers.Credential(); err != nil {
		// Not fatal: every analyze request reports the configuration error.
		d.logger.Warn().Err(err).Str("provider", cfg.Provider.Name).Msg("Provider credential not found")
	}

	analyzer, err := analyze.New(analyze.Config{
		Store:        d.store,
		Providers:    d.providers,
		Logger:       componentLog("analyze"),
		Model:        cfg.Provider.Model,
		Describe:     analyze.Generation{MaxTokens: cfg.Provider.Describe.MaxTokens, Temperature: cfg.Provider.Describe.Temperature},
		Question:     analyze.Generation{MaxTokens: cfg.Provider.Question.MaxTokens, Temperature: cfg.Provider.Question.Temperature},
		Timeout:      cfg.Provider.TimeoutDuration(),
		ContextTurns: cfg.Memory.ContextTurns,
	})
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}
	d.analyzer = analyzer

	opts := api.Options{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		Version:            d.version,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ShutdownTimeout:    time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		AllowedOrigin:      cfg.Server.AllowedOrigin,
		TrustProxyHeaders:  cfg.Server.TrustProxyHeaders,
		CookiePath:         cfg.Server.CookiePath,
		CookieMaxAge:       cfg.Memory.MaxIdleDuration(),
		CookieSecure:       cfg.Server.CookieSecure,
		MetricsEnabled:     cfg.Metrics.Enabled,
		MetricsPath:        cfg.Metrics.Path,
	}
	if cfg.Memory.Serve {
		opts.MemoryStore = d.store
		d.logger.Warn().Msg("Memory server mounted at /memory/v1 without authentication, keep the listener on a private network")
	}

	server, err := api.NewServer(opts, d.analyzer, d.logger.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	d.server = server

	return nil
}

// Start starts the sweeper and the API server. The server runs in the
// background; Wait reports when it exits.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("version", d.version).Msg("Starting Iris daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.sweeper != nil {
		if err := d.sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start session sweeper: %w", err)
		}
		logger.Info().
			Str("schedule", d.config.Memory.SweepSchedule).
			Dur("max_idle", d.sweeper.MaxIdle()).
			Time("next_run", d.sweeper.NextRun()).
			Msg("Session sweeper started")
	}

	go func() {
		d.serveErr <- d.server.Start()
	}()

	logger.Info().
		Str("addr", d.config.Server.Addr()).
		Str("provider", d.providers.Name()).
		Str("memory_backend", d.config.Memory.Backend).
		Msg("Daemon started")

	return nil
}

// Stop stops the daemon gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping Iris daemon")

	var errs []error

	if err := d.server.Stop(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to stop API server")
		errs = append(errs, err)
	}

	if d.sweeper != nil {
		if err := d.sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
		errs = append(errs, err)
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close audit log")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
		errs = append(errs, err)
	}

	d.shutdownTracing()

	logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Wait blocks until SIGINT, SIGTERM or the server exiting on its own, then
// stops the daemon. SIGHUP rotates the log file and keeps waiting.
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	var serveErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				d.rotateLogs()
				continue
			}
			d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
			break wait
		case serveErr = <-d.serveErr:
			if serveErr != nil {
				d.logger.Error().Err(serveErr).Msg("API server exited")
			}
			break wait
		}
	}

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
		return errors.Join(serveErr, err)
	}
	return serveErr
}

func (d *Daemon) rotateLogs() {
	if err := d.logger.Rotate(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to rotate log file")
		return
	}
	d.logger.Info().Msg("Log file rotated")
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetStore returns the session store
func (d *Daemon) GetStore() session.Store {
	return d.store
}

// GetSweeper returns the session sweeper, or nil when no schedule is configured
func (d *Daemon) GetSweeper() *session.Sweeper {
	return d.sweeper
}

// GetAnalyzer returns the analyzer
func (d *Daemon) GetAnalyzer() *analyze.Analyzer {
	return d.analyzer
}

// GetServer returns the API server
func (d *Daemon) GetServer() *api.Server {
	return d.server
}

// Status represents daemon status
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
}
