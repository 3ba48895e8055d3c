package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Store.QueryTimeout)
	assert.Equal(t, 20, cfg.Store.FallbackCapacity)
	assert.Equal(t, "gemini-1.5-flash-latest", cfg.AI.Model)
	assert.Equal(t, 500, cfg.AI.MaxOutputTokens)
	assert.Equal(t, 2, cfg.AI.MaxRetries)
	assert.Equal(t, 20, cfg.AI.HistoryWindow)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"should reject a zero port", func(c *Config) { c.Server.Port = 0 }},
		{"should reject an out-of-range port", func(c *Config) { c.Server.Port = 70000 }},
		{"should reject a zero query timeout", func(c *Config) { c.Store.QueryTimeout = 0 }},
		{"should reject a too-small fallback capacity", func(c *Config) { c.Store.FallbackCapacity = 5 }},
		{"should reject enabled retention without a max age", func(c *Config) {
			c.Store.Retention.Enabled = true
			c.Store.Retention.MaxAge = 0
		}},
		{"should reject a missing model", func(c *Config) { c.AI.Model = "" }},
		{"should reject zero max output tokens", func(c *Config) { c.AI.MaxOutputTokens = 0 }},
		{"should reject negative max retries", func(c *Config) { c.AI.MaxRetries = -1 }},
		{"should reject a zero history window", func(c *Config) { c.AI.HistoryWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader(t *testing.T) {
	t.Run("should fall back to defaults when no file exists", func(t *testing.T) {
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port)
		assert.NotEmpty(t, cfg.Store.Path)
		assert.NotEmpty(t, cfg.Logging.File)
	})

	t.Run("should load values from a config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relaychat.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"server": {"port": 8080},
			"ai": {"model": "gemini-2.0-flash"}
		}`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "gemini-2.0-flash", cfg.AI.Model)
		// Unset values keep their defaults.
		assert.Equal(t, 500, cfg.AI.MaxOutputTokens)
	})

	t.Run("should derive store and log paths from the data dir", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "relaychat.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"data_dir": "`+dir+`"}`), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "chat.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(dir, "relaychat.log"), cfg.Logging.File)
	})

	t.Run("should read the API key from the environment", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "env-key")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, "env-key", cfg.AI.APIKey)
	})

	t.Run("should round-trip through save and load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "relaychat.json")
		loader := NewLoader(path)

		cfg := DefaultConfig()
		cfg.Server.Port = 9999
		cfg.AI.Model = "gemini-custom"
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 9999, loaded.Server.Port)
		assert.Equal(t, "gemini-custom", loaded.AI.Model)
	})
}
