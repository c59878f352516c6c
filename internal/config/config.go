// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Risk scoring
	ScoringURL     string        // External scoring service base URL (optional, uses in-process engine if not set)
	ScoringTimeout time.Duration // Hard deadline for a scoring call
	AlertThreshold float64       // Default alert threshold, overridable per user

	// Explanation generator
	ExplainURL     string // Explanation service base URL (optional)
	ExplainAPIKey  string
	ExplainTimeout time.Duration

	// Alert lifecycle
	AlertTTL time.Duration // PENDING alerts older than this expire; 0 disables expiry

	// Observability
	OTLPEndpoint string

	// Security
	RateLimitRPM int
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultScoringTimeout = 5 * time.Second
	DefaultExplainTimeout = 8 * time.Second
	DefaultAlertThreshold = 0.30
	DefaultAlertTTL       = 72 * time.Hour
	DefaultRateLimit      = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ScoringURL:     os.Getenv("SCORING_URL"),
		ScoringTimeout: getEnvDuration("SCORING_TIMEOUT", DefaultScoringTimeout),
		AlertThreshold: getEnvFloat("ALERT_THRESHOLD", DefaultAlertThreshold),
		ExplainURL:     os.Getenv("EXPLAIN_URL"),
		ExplainAPIKey:  os.Getenv("EXPLAIN_API_KEY"),
		ExplainTimeout: getEnvDuration("EXPLAIN_TIMEOUT", DefaultExplainTimeout),
		AlertTTL:       getEnvDuration("ALERT_TTL", DefaultAlertTTL),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.AlertThreshold < 0 || c.AlertThreshold > 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be in [0,1], got %v", c.AlertThreshold)
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("SCORING_TIMEOUT must be positive")
	}
	if c.ScoringTimeout > 10*time.Second {
		return fmt.Errorf("SCORING_TIMEOUT must stay in the single-digit second range, got %s", c.ScoringTimeout)
	}
	if c.AlertTTL < 0 {
		return fmt.Errorf("ALERT_TTL must be zero or positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
