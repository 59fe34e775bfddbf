package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "auto", cfg.Browser.Provider)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 10, cfg.Browser.MaxPagesPerBrowser)
	assert.Equal(t, 5, cfg.API.RequestsPerMinute)
	assert.Contains(t, cfg.Resolver.ShortenerHosts, "amzn.to")
	assert.Contains(t, cfg.API.AllowedDomains, "amazon.de")
	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 15*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BROWSER_PROVIDER", "Serverless")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("BROWSER_MAX_PAGES", "3")
	t.Setenv("API_ALLOWED_DOMAINS", "amazon.com, amazon.de ,")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_CACHE_TTL", "1h")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, "serverless", cfg.Browser.Provider)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Browser.MaxPagesPerBrowser)
	assert.Equal(t, []string{"amazon.com", "amazon.de"}, cfg.API.AllowedDomains)
	assert.True(t, cfg.Database.Enabled())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	t.Setenv("BROWSER_HEADLESS", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown provider", func(c *Config) { c.Browser.Provider = "firefox" }},
		{"zero max pages", func(c *Config) { c.Browser.MaxPagesPerBrowser = 0 }},
		{"zero rate limit", func(c *Config) { c.API.RequestsPerMinute = 0 }},
		{"no allowed domains", func(c *Config) { c.API.AllowedDomains = nil }},
		{"redis without ttl", func(c *Config) { c.Redis.Addr = "x:6379"; c.Redis.CacheTTL = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Logging.Level = "warn"
	logger := cfg.NewLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
