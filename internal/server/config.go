// Package server provides configuration helpers that define runtime defaults
// and rate-limiting parameters for the PingSpace server.
package server

import (
	"time"
)

const (
	defaultPort           = ":8000"
	defaultMaxMessageSize = 4096
	defaultBurst          = 10
	defaultRefill         = 10 * time.Second
	defaultTokenTTL       = time.Hour
)

// RateLimitConfig defines the per-user message rate limit: at most Burst
// messages, refilled evenly over RefillInterval.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server settings including security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	JWTSecret      string
	TokenTTL       time.Duration
}

func defaultOrigins() []string {
	return []string{
		"http://localhost:8000",
		"http://127.0.0.1:8000",
	}
}

// NewConfig creates a Config populated with default values. JWTSecret is
// left empty and must be set by the caller.
func NewConfig() Config {
	return Config{
		Port:           defaultPort,
		AllowedOrigins: defaultOrigins(),
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefill,
		},
		TokenTTL: defaultTokenTTL,
	}
}

// sanitizeConfig replaces zero or negative values with defaults.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOrigins()
	} else {
		cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefill
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return cfg
}
