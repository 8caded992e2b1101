package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, ProviderGroq, cfg.Provider.Name)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.False(t, cfg.Server.TrustProxyHeaders)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("load config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")

		testConfig := `{
			"provider": {
				"name": "anthropic",
				"api_key": "sk-ant-test-key",
				"question": {"max_tokens": 120}
			},
			"memory": {"sweep_schedule": "@every 5m", "context_turns": 10},
			"server": {"trust_proxy_headers": true}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, cfg.Provider.Name)
		assert.Equal(t, "sk-ant-test-key", cfg.Provider.APIKey)
		assert.Equal(t, 120, cfg.Provider.Question.MaxTokens)
		assert.Equal(t, 0.2, cfg.Provider.Question.Temperature, "unset keys keep their defaults")
		assert.Equal(t, 100, cfg.Provider.Describe.MaxTokens)
		assert.Equal(t, "@every 5m", cfg.Memory.SweepSchedule)
		assert.Equal(t, 10, cfg.Memory.ContextTurns)
		assert.Equal(t, 3600, cfg.Memory.MaxIdle)
		assert.True(t, cfg.Server.TrustProxyHeaders)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("IRIS_SERVER_PORT", "9090")
		t.Setenv("IRIS_PROVIDER_NAME", "gemini")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, ProviderGemini, cfg.Provider.Name)
	})

	t.Run("schema rejects unknown provider", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"provider": {"name": "llava"}}`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "schema")
	})

	t.Run("schema rejects unknown section", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"telegram": {}}`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "iris.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Provider.Name = ProviderOpenAI
	cfg.Server.Port = 9001
	cfg.Memory.SweepSchedule = "@every 10m"
	cfg.DataDir = tmpDir

	require.NoError(t, loader.Save(cfg))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, loaded.Provider.Name)
	assert.Equal(t, 9001, loaded.Server.Port)
	assert.Equal(t, "@every 10m", loaded.Memory.SweepSchedule)
	assert.Equal(t, tmpDir, loaded.DataDir)
}

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte(`{}`)))
	assert.NoError(t, ValidateSchema([]byte(`{"server": {"port": 8080}}`)))
	assert.Error(t, ValidateSchema([]byte(`{"server": {"port": "8080"}}`)))
	assert.Error(t, ValidateSchema([]byte(`{"provider": {"question": {"temperature": 3}}}`)))
}
