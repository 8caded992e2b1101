package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		var out bytes.Buffer
		w := NewWizard(strings.NewReader("\n\n\n\n\n"), &out)

		cfg, err := w.Run()
		require.NoError(t, err)
		assert.Equal(t, ProviderGroq, cfg.Provider.Name)
		assert.Empty(t, cfg.Provider.APIKey)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("retries invalid answers", func(t *testing.T) {
		var out bytes.Buffer
		input := "llava\nanthropic\nbad-key\nsk-ant-abc\nclaude-3-5-sonnet-latest\n9000\ndebug"
		w := NewWizard(strings.NewReader(input), &out)

		cfg, err := w.Run()
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, cfg.Provider.Name)
		assert.Equal(t, "sk-ant-abc", cfg.Provider.APIKey)
		assert.Equal(t, "claude-3-5-sonnet-latest", cfg.Provider.Model)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "invalid provider")
	})

	t.Run("eof before answers", func(t *testing.T) {
		w := NewWizard(strings.NewReader(""), &bytes.Buffer{})
		_, err := w.Run()
		assert.Error(t, err)
	})
}
