package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ShortTTL)
	assert.Equal(t, 5*time.Minute, cfg.Credentials.RefreshMargin)
	assert.True(t, cfg.AI.FallbackEnabled)
	assert.Empty(t, cfg.AI.Search.APIKey)
	assert.Equal(t, 15*time.Second, cfg.AI.Search.Timeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache:
  backend: redis
  short_ttl: 90s
ai:
  fallback_enabled: false
  local:
    model: mistral
`), 0o600))
	t.Setenv("NOTIFYHUB_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 90*time.Second, cfg.Cache.ShortTTL)
	assert.Equal(t, time.Hour, cfg.Cache.LongTTL)
	assert.False(t, cfg.AI.FallbackEnabled)
	assert.Equal(t, "mistral", cfg.AI.Local.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "reading config")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Addr = "0.0.0.0:9000"
	cfg.Sync.Interval = 45 * time.Second

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
