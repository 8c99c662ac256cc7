// Package config reads service settings from the environment, after loading
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	DatabaseURL         string
	JWTSecret           string
	LogLevel            slog.Level
	CORSAllowedOrigins  []string
	PayoutGatewayURL    string
	PayoutTimeout       time.Duration
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	TransferMaxAttempts int
}

// Driver is the storage backend selected by DatabaseURL.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

const defaultJWTSecret = "supersecretmvp"

// Load reads .env files (if present) and the process environment. Missing
// keys fall back to development defaults.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite://ledger.db"),
		JWTSecret:           getEnv("JWT_SECRET", defaultJWTSecret),
		LogLevel:            level,
		CORSAllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		PayoutGatewayURL:    getEnv("PAYOUT_GATEWAY_URL", ""),
		PayoutTimeout:       getEnvDuration("PAYOUT_TIMEOUT", 30*time.Second),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
		TransferMaxAttempts: getEnvInt("TRANSFER_MAX_ATTEMPTS", 5),
	}
	if _, _, err := cfg.Database(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Database splits DatabaseURL into the driver and the connection string
// that driver expects: the full URL for Postgres, the file path for SQLite.
func (c *Config) Database() (Driver, string, error) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return DriverPostgres, c.DatabaseURL, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		path := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
		if path == "" {
			return "", "", errors.New("DATABASE_URL: empty sqlite path")
		}
		return DriverSQLite, path, nil
	}
	return "", "", fmt.Errorf("DATABASE_URL: unsupported scheme in %q", c.DatabaseURL)
}

// UsingDefaultSecret reports whether JWT_SECRET was left unset.
func (c *Config) UsingDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
