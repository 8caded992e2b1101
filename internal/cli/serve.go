package cli

import (
	"fmt"
	"path/filepath"

	"github.com/harun/iris/internal/config"
	"github.com/harun/iris/internal/daemon"
	"github.com/harun/iris/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the Iris API server",
	Long: `Start the Iris API server in the foreground.
The server runs until it receives SIGINT or SIGTERM, then waits for
in-flight requests before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig loads the config named by --config and applies flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// loggerConfig maps the logging section onto the logger, resolving a
// relative log file against the data directory.
func loggerConfig(cfg *config.Config) logger.Config {
	file := cfg.Logging.File
	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(cfg.DataDir, file)
	}
	return logger.Config{
		Level:      cfg.Logging.Level,
		File:       file,
		Console:    cfg.Logging.Console,
		Pretty:     cfg.Logging.Pretty,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(loggerConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	log.Info().Str("config", cfg.String()).Msg("Configuration loaded")

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return d.Wait()
}
