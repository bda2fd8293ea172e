package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig locates the embedded SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// ServerConfig holds settings for the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LocalModelConfig points at an Ollama-compatible local model server.
type LocalModelConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RemoteModelConfig holds settings for the remote Claude Messages API.
type RemoteModelConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Model     string        `mapstructure:"model" yaml:"model"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SearchConfig points at the Brave Search web API. Without an API key,
// search requests are answered by the models.
type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AIConfig holds settings for the AI proxy router.
type AIConfig struct {
	Local           LocalModelConfig  `mapstructure:"local" yaml:"local"`
	Remote          RemoteModelConfig `mapstructure:"remote" yaml:"remote"`
	Search          SearchConfig      `mapstructure:"search" yaml:"search"`
	FallbackEnabled bool              `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
}

// CacheConfig selects and sizes the response cache.
type CacheConfig struct {
	// Backend is one of "memory", "sqlite" or "redis".
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	MaxEntries  int           `mapstructure:"max_entries" yaml:"max_entries"`
	ShortTTL    time.Duration `mapstructure:"short_ttl" yaml:"short_ttl"`
	LongTTL     time.Duration `mapstructure:"long_ttl" yaml:"long_ttl"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// CredentialsConfig tunes OAuth2 token refresh.
type CredentialsConfig struct {
	// RefreshMargin is how long before expiry a token is refreshed.
	RefreshMargin  time.Duration `mapstructure:"refresh_margin" yaml:"refresh_margin"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
}

// SyncConfig tunes the background poller.
type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	AI          AIConfig          `mapstructure:"ai" yaml:"ai"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

// DefaultConfigDir returns ~/.config/notifyhub.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "notifyhub")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/notifyhub/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

var defaults = map[string]any{
	"database.path": filepath.Join(DefaultConfigDir(), "notifyhub.db"),

	"log.level":       "info",
	"log.development": false,

	"server.addr": "127.0.0.1:8787",

	"ai.local.base_url":    "http://localhost:11434",
	"ai.local.model":       "llama3.2",
	"ai.local.timeout":     30 * time.Second,
	"ai.remote.base_url":   "https://api.anthropic.com",
	"ai.remote.model":      "claude-sonnet-4-20250514",
	"ai.remote.max_tokens": 1024,
	"ai.remote.timeout":    60 * time.Second,
	"ai.search.base_url":   "https://api.search.brave.com/res/v1/web/search",
	"ai.search.api_key":    "",
	"ai.search.timeout":    15 * time.Second,
	"ai.fallback_enabled":  true,

	"cache.backend":      "memory",
	"cache.max_entries":  1000,
	"cache.short_ttl":    10 * time.Minute,
	"cache.long_ttl":     time.Hour,
	"cache.redis_addr":   "localhost:6379",
	"cache.redis_prefix": "notifyhub:cache:",

	"credentials.refresh_margin":  5 * time.Minute,
	"credentials.refresh_timeout": 30 * time.Second,

	"sync.interval":      2 * time.Minute,
	"sync.fetch_timeout": 30 * time.Second,

	"telemetry.enabled":      false,
	"telemetry.service_name": "notifyhub",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOTIFYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *AppConfig {
	cfg := &AppConfig{}
	// Defaults are static and always decode.
	_ = newViper().Unmarshal(cfg)
	return cfg
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults apply. Environment variables prefixed
// with NOTIFYHUB_ override both.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database.path", cfg.Database.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.development", cfg.Log.Development)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("ai.local.base_url", cfg.AI.Local.BaseURL)
	v.Set("ai.local.model", cfg.AI.Local.Model)
	v.Set("ai.local.timeout", cfg.AI.Local.Timeout.String())
	v.Set("ai.remote.base_url", cfg.AI.Remote.BaseURL)
	v.Set("ai.remote.model", cfg.AI.Remote.Model)
	v.Set("ai.remote.max_tokens", cfg.AI.Remote.MaxTokens)
	v.Set("ai.remote.timeout", cfg.AI.Remote.Timeout.String())
	v.Set("ai.search.base_url", cfg.AI.Search.BaseURL)
	v.Set("ai.search.api_key", cfg.AI.Search.APIKey)
	v.Set("ai.search.timeout", cfg.AI.Search.Timeout.String())
	v.Set("ai.fallback_enabled", cfg.AI.FallbackEnabled)
	v.Set("cache.backend", cfg.Cache.Backend)
	v.Set("cache.max_entries", cfg.Cache.MaxEntries)
	v.Set("cache.short_ttl", cfg.Cache.ShortTTL.String())
	v.Set("cache.long_ttl", cfg.Cache.LongTTL.String())
	v.Set("cache.redis_addr", cfg.Cache.RedisAddr)
	v.Set("cache.redis_prefix", cfg.Cache.RedisPrefix)
	v.Set("credentials.refresh_margin", cfg.Credentials.RefreshMargin.String())
	v.Set("credentials.refresh_timeout", cfg.Credentials.RefreshTimeout.String())
	v.Set("sync.interval", cfg.Sync.Interval.String())
	v.Set("sync.fetch_timeout", cfg.Sync.FetchTimeout.String())
	v.Set("telemetry.enabled", cfg.Telemetry.Enabled)
	v.Set("telemetry.service_name", cfg.Telemetry.ServiceName)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
