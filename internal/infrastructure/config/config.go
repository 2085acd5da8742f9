package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Directory DirectoryConfig
	Live      LiveConfig
	Sync      SyncConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the dashboard HTTP server configuration.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8000"`
	Host           string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// DirectoryConfig holds Package Directory Service settings.
type DirectoryConfig struct {
	BaseURL     string        `envconfig:"DIRECTORY_URL" default:"http://localhost:5000/api/v1"`
	Token       string        `envconfig:"DIRECTORY_TOKEN"`
	AuthScheme  string        `envconfig:"DIRECTORY_AUTH_SCHEME" default:"Bearer"`
	RefreshPath string        `envconfig:"DIRECTORY_REFRESH_PATH" default:"/auth/refresh-token"`
	Timeout     time.Duration `envconfig:"DIRECTORY_TIMEOUT" default:"15s"`
	RateLimit   float64       `envconfig:"DIRECTORY_RPS" default:"0"`
}

// LiveConfig holds Live Update Channel settings.
type LiveConfig struct {
	Transport      string        `envconfig:"LIVE_TRANSPORT" default:"websocket"`
	URL            string        `envconfig:"LIVE_URL" default:"ws://localhost:5000/live"`
	RedisAddr      string        `envconfig:"LIVE_REDIS_ADDR" default:"localhost:6379"`
	RedisChannel   string        `envconfig:"LIVE_REDIS_CHANNEL" default:"packages"`
	MaxAttempts    int           `envconfig:"LIVE_MAX_ATTEMPTS" default:"8"`
	BackoffInitial time.Duration `envconfig:"LIVE_BACKOFF_INITIAL" default:"500ms"`
	BackoffMax     time.Duration `envconfig:"LIVE_BACKOFF_MAX" default:"30s"`
	PingInterval   time.Duration `envconfig:"LIVE_PING_INTERVAL" default:"25s"`
}

// SyncConfig holds view and cache settings.
type SyncConfig struct {
	PageSize   int           `envconfig:"PAGE_SIZE" default:"20"`
	StuckAfter time.Duration `envconfig:"STUCK_AFTER" default:"30m"`
	ViewsFile  string        `envconfig:"VIEWS_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds per-IP rate limiting for the dashboard API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Directory: DirectoryConfig{
			BaseURL:     "http://localhost:5000/api/v1",
			AuthScheme:  "Bearer",
			RefreshPath: "/auth/refresh-token",
			Timeout:     15 * time.Second,
		},
		Live: LiveConfig{
			Transport:      "websocket",
			URL:            "ws://localhost:5000/live",
			RedisAddr:      "localhost:6379",
			RedisChannel:   "packages",
			MaxAttempts:    8,
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
			PingInterval:   25 * time.Second,
		},
		Sync: SyncConfig{
			PageSize:   20,
			StuckAfter: 30 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Directory.BaseURL); err != nil {
		return fmt.Errorf("invalid DIRECTORY_URL: %w", err)
	}
	switch c.Live.Transport {
	case "websocket":
		if _, err := url.ParseRequestURI(c.Live.URL); err != nil {
			return fmt.Errorf("invalid LIVE_URL: %w", err)
		}
	case "redis":
		if c.Live.RedisAddr == "" {
			return fmt.Errorf("LIVE_REDIS_ADDR required for redis transport")
		}
	case "off":
	default:
		return fmt.Errorf("unknown LIVE_TRANSPORT %q", c.Live.Transport)
	}
	if c.Live.MaxAttempts < 1 {
		return fmt.Errorf("LIVE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1")
	}
	return nil
}

// Addr returns the listen address of the dashboard API
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
