package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDriver        = "postgres"
	defaultDSN           = "host=localhost user=postgres password=postgres dbname=custody port=5432 sslmode=disable"
	defaultHTTPAddr      = ":8080"
	defaultSweepInterval = time.Hour
	defaultNetwork       = "mainnet"
)

type Config struct {
	DatabaseDriver string
	DatabaseDSN    string
	HTTPAddr       string
	SweepInterval  time.Duration
	WebhookURL     string
	LogLevel       string
	Network        string
	AllowedOrigins []string
}

// Load reads .env from the working directory when present, then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseDriver: strings.ToLower(getenv("DATABASE_DRIVER", defaultDriver)),
		DatabaseDSN:    getenv("DATABASE_DSN", defaultDSN),
		HTTPAddr:       getenv("HTTP_ADDR", defaultHTTPAddr),
		SweepInterval:  defaultSweepInterval,
		WebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		Network:        getenv("BITCOIN_NETWORK", defaultNetwork),
	}

	if raw := os.Getenv("DRAFT_SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("DRAFT_SWEEP_INTERVAL: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("DRAFT_SWEEP_INTERVAL must be positive, got %s", d)
		}
		cfg.SweepInterval = d
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("DATABASE_DRIVER: unsupported driver %q", cfg.DatabaseDriver)
	}

	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
