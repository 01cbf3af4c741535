// Package config loads engine settings from the environment and the pairs
// file. Environment variables carry operational knobs; the YAML pairs file
// declares which (tenant, provider) pairs to schedule and their
// transformation rules.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EngineConfig holds the operational knobs of the sync engine.
type EngineConfig struct {
	// Poll scheduling bounds and the default per-pair interval.
	MinInterval     time.Duration
	MaxInterval     time.Duration
	DefaultInterval time.Duration

	// Failure handling.
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AlertThreshold int
	Cooldown       time.Duration

	// RuleRefreshInterval is how often the transformation rule cache is
	// refreshed in the background.
	RuleRefreshInterval time.Duration

	// ErrorLogLimit bounds each pair's persisted error log.
	ErrorLogLimit int

	// DatabaseURL selects the postgres store; empty selects the
	// in-memory store.
	DatabaseURL string

	// PairsFile is the path to the YAML pairs declaration.
	PairsFile string
}

// FromEnv reads the engine configuration, applying defaults for anything
// unset.
func FromEnv() *EngineConfig {
	return &EngineConfig{
		MinInterval:         getEnvDuration("SYNC_MIN_INTERVAL", 30*time.Second),
		MaxInterval:         getEnvDuration("SYNC_MAX_INTERVAL", 24*time.Hour),
		DefaultInterval:     getEnvDuration("SYNC_DEFAULT_INTERVAL", 5*time.Minute),
		BaseBackoff:         getEnvDuration("SYNC_BASE_BACKOFF", 5*time.Second),
		MaxBackoff:          getEnvDuration("SYNC_MAX_BACKOFF", 10*time.Minute),
		AlertThreshold:      getEnvInt("SYNC_ALERT_THRESHOLD", 3),
		Cooldown:            getEnvDuration("SYNC_COOLDOWN", 15*time.Minute),
		RuleRefreshInterval: getEnvDuration("SYNC_RULE_REFRESH_INTERVAL", time.Minute),
		ErrorLogLimit:       getEnvInt("SYNC_ERROR_LOG_LIMIT", 200),
		DatabaseURL:         getEnv("SYNC_DATABASE_URL", os.Getenv("DATABASE_URL")),
		PairsFile:           getEnv("SYNC_PAIRS_FILE", "pairs.yaml"),
	}
}

// Validate rejects configurations the poller cannot honor.
func (c *EngineConfig) Validate() error {
	if c.MinInterval <= 0 || c.MaxInterval <= 0 || c.MinInterval > c.MaxInterval {
		return fmt.Errorf("interval bounds invalid: min=%s max=%s", c.MinInterval, c.MaxInterval)
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("backoff bounds invalid: base=%s max=%s", c.BaseBackoff, c.MaxBackoff)
	}
	if c.AlertThreshold <= 0 {
		return fmt.Errorf("alert threshold must be positive, got %d", c.AlertThreshold)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
