// Package config loads engine configuration with a clear precedence:
// environment variables over defaults. A .env file, when present, feeds the
// environment first.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds engine-wide configuration.
type Config struct {
	// DataDir is the storage location for collection log files.
	DataDir string
	// SyncWrites forces an fsync after every appended record.
	SyncWrites bool
	// ShutdownTimeout bounds how long Close waits for queued writes.
	ShutdownTimeout time.Duration
}

// NewDefaultConfig creates a Config with sensible default values.
func NewDefaultConfig() Config {
	return Config{
		DataDir:         "./data",
		SyncWrites:      true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig loads configuration: .env file (if any), then environment
// overrides on top of defaults.
func LoadConfig() Config {
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env file")
	}

	cfg := NewDefaultConfig()
	applyEnvConfig(&cfg)
	return cfg
}

func applyEnvConfig(cfg *Config) {
	if dirEnv := os.Getenv("DOCBASE_DATA_DIR"); dirEnv != "" {
		cfg.DataDir = dirEnv
		slog.Info("Overriding DataDir from environment", "value", dirEnv)
	}

	if syncEnv := os.Getenv("DOCBASE_SYNC_WRITES"); syncEnv != "" {
		if b, err := strconv.ParseBool(syncEnv); err == nil {
			cfg.SyncWrites = b
			slog.Info("Overriding SyncWrites from environment", "value", b)
		} else {
			slog.Warn("Invalid DOCBASE_SYNC_WRITES env var, using default", "value", syncEnv)
		}
	}

	if timeoutEnv := os.Getenv("DOCBASE_SHUTDOWN_TIMEOUT"); timeoutEnv != "" {
		if d, err := time.ParseDuration(timeoutEnv); err == nil {
			cfg.ShutdownTimeout = d
			slog.Info("Overriding ShutdownTimeout from environment", "value", d)
		} else {
			slog.Warn("Invalid DOCBASE_SHUTDOWN_TIMEOUT env var, using default", "value", timeoutEnv)
		}
	}
}
