package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "SCORING_URL",
		"SCORING_TIMEOUT", "ALERT_THRESHOLD", "ALERT_TTL", "RATE_LIMIT_RPM",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultScoringTimeout, cfg.ScoringTimeout)
	assert.Equal(t, DefaultAlertThreshold, cfg.AlertThreshold)
	assert.Equal(t, DefaultAlertTTL, cfg.AlertTTL)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.ScoringURL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/guard")
	t.Setenv("SCORING_URL", "http://scorer:9000")
	t.Setenv("SCORING_TIMEOUT", "2s")
	t.Setenv("ALERT_THRESHOLD", "0.45")
	t.Setenv("ALERT_TTL", "24h")
	t.Setenv("RATE_LIMIT_RPM", "600")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "postgres://localhost/guard", cfg.DatabaseURL)
	assert.Equal(t, "http://scorer:9000", cfg.ScoringURL)
	assert.Equal(t, 2*time.Second, cfg.ScoringTimeout)
	assert.Equal(t, 0.45, cfg.AlertThreshold)
	assert.Equal(t, 24*time.Hour, cfg.AlertTTL)
	assert.Equal(t, 600, cfg.RateLimitRPM)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("SCORING_TIMEOUT", "soon")
	t.Setenv("ALERT_THRESHOLD", "very low")
	t.Setenv("RATE_LIMIT_RPM", "lots")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultScoringTimeout, cfg.ScoringTimeout)
	assert.Equal(t, DefaultAlertThreshold, cfg.AlertThreshold)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			AlertThreshold: 0.30,
			ScoringTimeout: 5 * time.Second,
			AlertTTL:       72 * time.Hour,
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.AlertThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.AlertThreshold = -0.1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ScoringTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ScoringTimeout = time.Minute
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.AlertTTL = -time.Hour
	assert.Error(t, cfg.Validate())

	// Zero TTL means expiry is disabled, not invalid
	cfg = base()
	cfg.AlertTTL = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsIncoherentEnv(t *testing.T) {
	t.Setenv("ALERT_THRESHOLD", "2.0")

	_, err := Load()
	require.Error(t, err)
}
