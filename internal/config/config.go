package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Provider names accepted in provider.name
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Memory backends accepted in memory.backend
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config represents the main Iris configuration
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`

	// Data directory for log, audit and trace files
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	ReadTimeout        int    `json:"read_timeout" mapstructure:"read_timeout"`         // seconds
	WriteTimeout       int    `json:"write_timeout" mapstructure:"write_timeout"`       // seconds
	ShutdownTimeout    int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	MaxUploadBytes     int64  `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	AllowedOrigin      string `json:"allowed_origin" mapstructure:"allowed_origin"`
	TrustProxyHeaders  bool   `json:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
	CookiePath         string `json:"cookie_path" mapstructure:"cookie_path"`
	CookieSecure       bool   `json:"cookie_secure" mapstructure:"cookie_secure"`
}

// GenerationConfig holds sampling settings for one prompt mode
type GenerationConfig struct {
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// ProviderConfig holds vision provider configuration
type ProviderConfig struct {
	Name     string           `json:"name" mapstructure:"name"` // groq, openai, anthropic, gemini
	APIKey   string           `json:"api_key" mapstructure:"api_key"`
	Model    string           `json:"model" mapstructure:"model"`
	BaseURL  string           `json:"base_url" mapstructure:"base_url"`
	Timeout  int              `json:"timeout" mapstructure:"timeout"` // seconds
	Describe GenerationConfig `json:"describe" mapstructure:"describe"`
	Question GenerationConfig `json:"question" mapstructure:"question"`
}

// MemoryConfig holds conversation memory configuration
type MemoryConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"` // local, remote
	RemoteURL     string `json:"remote_url" mapstructure:"remote_url"`
	MaxIdle       int    `json:"max_idle" mapstructure:"max_idle"` // seconds
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	ContextTurns  int    `json:"context_turns" mapstructure:"context_turns"` // 0 keeps all
	Serve         bool   `json:"serve" mapstructure:"serve"`
	AuditFile     string `json:"audit_file" mapstructure:"audit_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			ReadTimeout:        30,
			WriteTimeout:       60,
			ShutdownTimeout:    15,
			MaxUploadBytes:     10 << 20,
			RateLimitPerMinute: 60,
			AllowedOrigin:      "*",
			CookiePath:         "/",
		},
		Provider: ProviderConfig{
			Name:    ProviderGroq,
			Timeout: 30,
			Describe: GenerationConfig{
				MaxTokens:   100,
				Temperature: 0.7,
			},
			Question: GenerationConfig{
				MaxTokens:   75,
				Temperature: 0.2,
			},
		},
		Memory: MemoryConfig{
			Backend: BackendLocal,
			MaxIdle: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     false,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Provider.APIKey != "" {
		masked.Provider.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Addr returns the host:port the HTTP server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TimeoutDuration returns the provider call timeout
func (p ProviderConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// MaxIdleDuration returns how long a session may sit idle before a sweep removes it
func (m MemoryConfig) MaxIdleDuration() time.Duration {
	return time.Duration(m.MaxIdle) * time.Second
}

// Validate checks if the configuration is valid. The provider credential is
// not required here; a missing key is reported per request.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case ProviderGroq, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("invalid provider %q (must be: groq, openai, anthropic, gemini)", c.Provider.Name)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %d", c.Provider.Timeout)
	}
	if c.Provider.Describe.MaxTokens <= 0 || c.Provider.Question.MaxTokens <= 0 {
		return fmt.Errorf("provider max_tokens must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server rate_limit_per_minute must be >= 0")
	}

	switch c.Memory.Backend {
	case BackendLocal:
	case BackendRemote:
		if c.Memory.RemoteURL == "" {
			return fmt.Errorf("memory remote_url is required when backend is remote")
		}
		if c.Memory.Serve {
			return fmt.Errorf("memory serve requires the local backend")
		}
	default:
		return fmt.Errorf("invalid memory backend %q (must be: local, remote)", c.Memory.Backend)
	}
	if c.Memory.MaxIdle <= 0 {
		return fmt.Errorf("memory max_idle must be positive, got %d", c.Memory.MaxIdle)
	}
	if c.Memory.ContextTurns < 0 {
		return fmt.Errorf("memory context_turns must be >= 0")
	}
	if c.Memory.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Memory.SweepSchedule); err != nil {
			return fmt.Errorf("invalid memory sweep_schedule %q: %w", c.Memory.SweepSchedule, err)
		}
	}

	return nil
}
