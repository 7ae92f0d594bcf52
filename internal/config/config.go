// Package config loads service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the service configuration.
type Config struct {
	Port         string
	DatabaseURL  string // empty → in-memory store (demo mode)
	RedisURL     string // empty → no cache layer
	QuoteAPIKey  string
	QuoteBaseURL string // empty → provider default
	SnapshotCron string // empty → sampler default
	LogLevel     slog.Level
}

// Load reads configuration from environment variables, loading .env first
// if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		QuoteAPIKey:  os.Getenv("QUOTE_API_KEY"),
		QuoteBaseURL: os.Getenv("QUOTE_BASE_URL"),
		SnapshotCron: os.Getenv("SNAPSHOT_CRON"),
		LogLevel:     parseLogLevel(os.Getenv("LOG_LEVEL")),
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
