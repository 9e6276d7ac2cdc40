package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.AIModeSmart, cfg.AIMode)
	assert.Equal(t, 3, cfg.AITimeoutSeconds)
	assert.Equal(t, 3*time.Second, cfg.AITimeout())
	assert.Equal(t, 2, cfg.MaxResolutionAttempts)
	assert.InDelta(t, 0.7, cfg.ResolutionMinConfidence, 1e-9)
	assert.InDelta(t, 0.6, cfg.ResolutionMinSuccessProb, 1e-9)
	assert.InDelta(t, 0.3, cfg.ResolutionLowConfBlock, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 3, cfg.DLQMaxAttempts)
	assert.Equal(t, 30, cfg.DLQRetentionDays)
	assert.Equal(t, 45*time.Minute, cfg.AICacheTTL)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.AdminEnabled(), "admin stays off until a JWT secret is set")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9090")
	t.Setenv("AI_MODE", "fallback")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DLQ_REPLAY_INTERVAL", "30s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, config.AIModeFallback, cfg.AIMode)
	assert.True(t, cfg.AdminEnabled())
	assert.Equal(t, 30*time.Second, cfg.DLQReplayInterval)
}

func TestLoad_AITimeoutIsABareSecondCount(t *testing.T) {
	t.Setenv("AI_TIMEOUT_SECONDS", "7")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.AITimeout())

	t.Setenv("AI_TIMEOUT_SECONDS", "0")
	_, err = config.Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownAIMode(t *testing.T) {
	t.Setenv("AI_MODE", "yolo")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_MODE")
}

func TestLoad_RejectsOutOfRangeConfidence(t *testing.T) {
	t.Setenv("AI_MIN_CONFIDENCE", "1.5")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_MIN_CONFIDENCE")
}

func TestLoad_RejectsZeroResolutionBudget(t *testing.T) {
	t.Setenv("OCTUP_MAX_RESOLUTION_ATTEMPTS", "0")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate_DirectConstruction(t *testing.T) {
	cfg := config.Config{AIMode: config.AIModeFull, AIMinConfidence: 0.5, MaxResolutionAttempts: 1, AITimeoutSeconds: 3}
	assert.NoError(t, cfg.Validate())

	cfg.AIMinConfidence = -0.1
	assert.Error(t, cfg.Validate())
}
