// Configuration helpers defining runtime defaults, validation, and
// rate-limiting parameters for the Halcyon relay.
package server

import (
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// RateLimitConfig defines the parameters for per-connection frame rate
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration, loaded from the environment.
type Config struct {
	Addr            string        `env:"HALCYON_ADDR,default=:8080"`
	AllowedOrigins  string        `env:"HALCYON_ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize  int64         `env:"HALCYON_MAX_MESSAGE_SIZE,default=4096"`
	RateLimitBurst  int           `env:"HALCYON_RATE_LIMIT_BURST,default=20"`
	RateLimitRefill time.Duration `env:"HALCYON_RATE_LIMIT_REFILL,default=1s"`
	DatabasePath    string        `env:"HALCYON_DB_PATH,default=halcyon.db"`
	JWTSecret       string        `env:"HALCYON_JWT_SECRET"`
	TokenTTL        time.Duration `env:"HALCYON_TOKEN_TTL,default=24h"`
	ShutdownTimeout time.Duration `env:"HALCYON_SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel        string        `env:"HALCYON_LOG_LEVEL,default=info"`
}

// LoadConfig reads configuration from the environment and applies
// defaults for missing or invalid values.
func LoadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.sanitize()
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("HALCYON_JWT_SECRET is required")
	}
	return cfg, nil
}

// DefaultConfig returns a configuration suitable for tests: defaults plus
// a throwaway signing secret and an in-memory database.
func DefaultConfig() Config {
	cfg := Config{
		Addr:            ":8080",
		AllowedOrigins:  "http://localhost:8080",
		MaxMessageSize:  4096,
		RateLimitBurst:  20,
		RateLimitRefill: time.Second,
		DatabasePath:    ":memory:",
		JWTSecret:       "test-secret",
		TokenTTL:        24 * time.Hour,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
	cfg.sanitize()
	return cfg
}

// sanitize replaces zero or nonsensical values with safe defaults.
func (c *Config) sanitize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitRefill <= 0 {
		c.RateLimitRefill = time.Second
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Origins splits the comma-separated allowed-origins list.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
