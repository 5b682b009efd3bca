// Package config loads the server configuration from the environment, with
// an optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port string `envconfig:"PORT" default:"8080"`

	// Empty DatabaseURL selects the in-memory store.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	Redis struct {
		URL string        `envconfig:"REDIS_URL"`
		TTL time.Duration `envconfig:"REDIS_TTL" default:"30s"`
	}

	// Empty NATS.URL disables publishing to NATS.
	NATS struct {
		URL     string `envconfig:"NATS_URL"`
		Subject string `envconfig:"NATS_SUBJECT" default:"perp.exposure"`
	}

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Validate checks values envconfig cannot.
func Validate(cfg *Config) error {
	if cfg.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.Redis.URL != "" && cfg.DatabaseURL == "" {
		return errors.New("REDIS_URL requires DATABASE_URL")
	}
	if cfg.Redis.TTL <= 0 {
		return fmt.Errorf("REDIS_TTL must be positive, got %s", cfg.Redis.TTL)
	}
	if cfg.NATS.URL != "" && strings.TrimSpace(cfg.NATS.Subject) == "" {
		return errors.New("NATS_SUBJECT must not be empty when NATS_URL is set")
	}
	if cfg.RequestTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT and SHUTDOWN_TIMEOUT must be positive")
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
