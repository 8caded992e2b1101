package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderGroq, cfg.Provider.Name)
	assert.Equal(t, 30, cfg.Provider.Timeout)
	assert.Equal(t, 100, cfg.Provider.Describe.MaxTokens)
	assert.Equal(t, 0.7, cfg.Provider.Describe.Temperature)
	assert.Equal(t, 75, cfg.Provider.Question.MaxTokens)
	assert.Equal(t, 0.2, cfg.Provider.Question.Temperature)
	assert.Equal(t, BackendLocal, cfg.Memory.Backend)
	assert.Equal(t, 3600, cfg.Memory.MaxIdle)
	assert.Empty(t, cfg.Memory.SweepSchedule)
	assert.Zero(t, cfg.Memory.ContextTurns)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "/", cfg.Server.CookiePath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Provider.TimeoutDuration())
	assert.Equal(t, time.Hour, cfg.Memory.MaxIdleDuration())
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "gsk_supersecret"

	s := cfg.String()
	assert.NotContains(t, s, "gsk_supersecret")
	assert.Contains(t, s, "********")
	assert.Equal(t, "gsk_supersecret", cfg.Provider.APIKey)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider.Name = "llava" },
			wantErr: "invalid provider",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Provider.Timeout = 0 },
			wantErr: "timeout must be positive",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "port",
		},
		{
			name:    "remote backend without url",
			mutate:  func(c *Config) { c.Memory.Backend = BackendRemote },
			wantErr: "remote_url is required",
		},
		{
			name: "serve with remote backend",
			mutate: func(c *Config) {
				c.Memory.Backend = BackendRemote
				c.Memory.RemoteURL = "http://memory:8000/memory/v1"
				c.Memory.Serve = true
			},
			wantErr: "serve requires the local backend",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Memory.Backend = "redis" },
			wantErr: "invalid memory backend",
		},
		{
			name:    "bad sweep schedule",
			mutate:  func(c *Config) { c.Memory.SweepSchedule = "every now and then" },
			wantErr: "sweep_schedule",
		},
		{
			name:    "negative context turns",
			mutate:  func(c *Config) { c.Memory.ContextTurns = -1 },
			wantErr: "context_turns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	t.Run("valid sweep schedule", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Memory.SweepSchedule = "@every 10m"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing api key is not a config error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Provider.APIKey = ""
		assert.NoError(t, cfg.Validate())
	})
}
