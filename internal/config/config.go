// Package config loads the environment configuration of the chat client and
// the reference chat server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Client is the chat client configuration.
type Client struct {
	APIURL string `env:"PINGSPACE_API_URL,default=http://127.0.0.1:8000" validate:"required,url"`
	// WSURL defaults to APIURL with http replaced by ws.
	WSURL string `env:"PINGSPACE_WS_URL" validate:"required,url"`
	Token string `env:"PINGSPACE_TOKEN"`
	// Origin defaults to the scheme and host of APIURL.
	Origin         string        `env:"PINGSPACE_ORIGIN"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE,default=65536" validate:"gt=0"`
	PingInterval   time.Duration `env:"WS_PING_INTERVAL,default=54s" validate:"gt=0"`
	LogLevel       string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
}

// Server is the reference chat server configuration.
type Server struct {
	Port string `env:"SERVER_PORT,default=:8000" validate:"required"`
	// AllowedOrigins is the comma separated ALLOWED_ORIGINS list. Empty keeps
	// the server's built-in defaults.
	AllowedOrigins []string
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE,default=4096" validate:"gt=0"`
	RateLimitBurst int   `env:"RATE_LIMIT_BURST,default=10" validate:"gt=0"`
	// RateLimitRefill accepts whole seconds ("10") or a duration ("1m30s").
	RateLimitRefill time.Duration
	JWTSecret       string        `env:"JWT_SECRET,required=true" validate:"required"`
	TokenTTL        time.Duration `env:"TOKEN_TTL,default=1h" validate:"gt=0"`
	LogLevel        string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	// Members is the comma separated SERVER_MEMBERS list of usernames that
	// belong to the seeded server.
	Members []string

	RawAllowedOrigins  string `env:"ALLOWED_ORIGINS"`
	RawMembers         string `env:"SERVER_MEMBERS"`
	RawRateLimitRefill string `env:"RATE_LIMIT_REFILL_INTERVAL,default=10s"`
}

// LoadDotEnv loads the given .env files, or ./.env when none are given, into
// the process environment. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// LoadClient reads the client configuration from environ, a list of
// KEY=value pairs as returned by os.Environ.
func LoadClient(environ []string) (Client, error) {
	var cfg Client
	if err := unmarshal(environ, &cfg); err != nil {
		return Client{}, err
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	api, err := url.Parse(cfg.APIURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		return Client{}, fmt.Errorf("config: PINGSPACE_API_URL %q must be an http or https URL", cfg.APIURL)
	}
	if cfg.WSURL == "" {
		cfg.WSURL = "ws" + strings.TrimPrefix(cfg.APIURL, "http")
	}
	if !strings.HasPrefix(cfg.WSURL, "ws://") && !strings.HasPrefix(cfg.WSURL, "wss://") {
		return Client{}, fmt.Errorf("config: PINGSPACE_WS_URL %q must be a ws or wss URL", cfg.WSURL)
	}
	if cfg.Origin == "" {
		cfg.Origin = api.Scheme + "://" + api.Host
	}

	if err := validate.Struct(cfg); err != nil {
		return Client{}, fmt.Errorf("config: invalid client configuration: %w", err)
	}
	return cfg, nil
}

// LoadServer reads the server configuration from environ.
func LoadServer(environ []string) (Server, error) {
	var cfg Server
	if err := unmarshal(environ, &cfg); err != nil {
		return Server{}, err
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.AllowedOrigins = splitList(cfg.RawAllowedOrigins)
	cfg.Members = splitList(cfg.RawMembers)

	refill, err := parseInterval(cfg.RawRateLimitRefill)
	if err != nil {
		return Server{}, fmt.Errorf("config: RATE_LIMIT_REFILL_INTERVAL: %w", err)
	}
	cfg.RateLimitRefill = refill

	if err := validate.Struct(cfg); err != nil {
		return Server{}, fmt.Errorf("config: invalid server configuration: %w", err)
	}
	return cfg, nil
}

func unmarshal(environ []string, v any) error {
	es, err := env.EnvironToEnvSet(environ)
	if err != nil {
		return fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := env.Unmarshal(es, v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseInterval accepts a positive count of seconds or a Go duration.
func parseInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}
