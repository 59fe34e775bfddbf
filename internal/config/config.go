package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Resolver ResolverConfig
	API      APIConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BrowserConfig configures the browser provider and pool.
type BrowserConfig struct {
	Provider           string
	Headless           bool
	ExecutablePath     string
	CDPEndpoint        string
	ProxyServer        string
	MaxPagesPerBrowser int
	LaunchTimeout      time.Duration
}

// ResolverConfig configures short-link resolution.
type ResolverConfig struct {
	Timeout        time.Duration
	ShortenerHosts []string
}

// APIConfig configures request validation and rate limiting.
type APIConfig struct {
	AllowedDomains    []string
	AllowedOrigins    []string
	RequestsPerMinute int
	Burst             int
}

// DatabaseConfig is disabled when Host is empty.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// Enabled reports whether a database host is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// RedisConfig is disabled when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// RelayConfig configures the outbox relay.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 180*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Browser: BrowserConfig{
			Provider:           strings.ToLower(getEnvOrDefault("BROWSER_PROVIDER", "auto")),
			Headless:           getBoolOrDefault("BROWSER_HEADLESS", true),
			ExecutablePath:     getEnvOrDefault("BROWSER_EXECUTABLE_PATH", ""),
			CDPEndpoint:        getEnvOrDefault("BROWSER_CDP_ENDPOINT", ""),
			ProxyServer:        getEnvOrDefault("BROWSER_PROXY", ""),
			MaxPagesPerBrowser: getIntOrDefault("BROWSER_MAX_PAGES", 10),
			LaunchTimeout:      getDurationOrDefault("BROWSER_LAUNCH_TIMEOUT", 30*time.Second),
		},
		Resolver: ResolverConfig{
			Timeout:        getDurationOrDefault("RESOLVER_TIMEOUT", 10*time.Second),
			ShortenerHosts: getStringSliceOrDefault("RESOLVER_SHORTENER_HOSTS", []string{"amzn.to", "amzn.eu", "amzn.asia", "a.co"}),
		},
		API: APIConfig{
			AllowedDomains:    getStringSliceOrDefault("API_ALLOWED_DOMAINS", defaultAmazonDomains()),
			AllowedOrigins:    getStringSliceOrDefault("API_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
			RequestsPerMinute: getIntOrDefault("API_RATE_LIMIT_PER_MINUTE", 5),
			Burst:             getIntOrDefault("API_RATE_LIMIT_BURST", 5),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", ""),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "affiliate_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			CacheTTL: getDurationOrDefault("REDIS_CACHE_TTL", 15*time.Minute),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}

	switch c.Browser.Provider {
	case "auto", "local", "serverless":
	default:
		return fmt.Errorf("BROWSER_PROVIDER must be auto, local or serverless, got %q", c.Browser.Provider)
	}

	if c.Browser.MaxPagesPerBrowser < 1 {
		return fmt.Errorf("BROWSER_MAX_PAGES must be at least 1")
	}

	if c.API.RequestsPerMinute < 1 {
		return fmt.Errorf("API_RATE_LIMIT_PER_MINUTE must be at least 1")
	}

	if len(c.API.AllowedDomains) == 0 {
		return fmt.Errorf("API_ALLOWED_DOMAINS must not be empty")
	}

	if c.Redis.Enabled() && c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("REDIS_CACHE_TTL must be positive")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// NewLogger builds the process logger described by the logging section.
func (c *Config) NewLogger() *slog.Logger {
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}

	if c.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultAmazonDomains() []string {
	return []string{
		"amazon.com",
		"amazon.ca",
		"amazon.com.mx",
		"amazon.com.br",
		"amazon.co.uk",
		"amazon.de",
		"amazon.fr",
		"amazon.it",
		"amazon.es",
		"amazon.nl",
		"amazon.se",
		"amazon.pl",
		"amazon.com.be",
		"amazon.com.tr",
		"amazon.ae",
		"amazon.sa",
		"amazon.in",
		"amazon.co.jp",
		"amazon.com.au",
		"amazon.sg",
	}
}
