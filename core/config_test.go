package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.MaxAutoTier)
	assert.Equal(t, 3, cfg.CircuitFailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.CircuitResetWindow)
	assert.Equal(t, 5*time.Second, cfg.DefaultAPITimeout)
	assert.Equal(t, 10*time.Minute, cfg.HaltTTL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `max_auto_tier: 1
circuit_failure_threshold: 5
circuit_reset_window: 2m
halt_ttl: 30m
log_level: debug
feature_flags:
  premium_catalog: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxAutoTier)
	assert.Equal(t, 5, cfg.CircuitFailureThreshold)
	assert.Equal(t, 2*time.Minute, cfg.CircuitResetWindow)
	assert.Equal(t, 30*time.Minute, cfg.HaltTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, false, cfg.FeatureFlags["premium_catalog"])

	// Keys absent from the file keep their defaults
	assert.Equal(t, 5*time.Second, cfg.DefaultAPITimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("halt_ttl: soon\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ASKCART_MAX_AUTO_TIER", "1")
	t.Setenv("ASKCART_HALT_TTL", "45m")
	t.Setenv("ASKCART_LOG_LEVEL", "warn")
	t.Setenv("ASKCART_FEATURE_FLAGS", "premium_catalog=false,web_research=true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxAutoTier)
	assert.Equal(t, 45*time.Minute, cfg.HaltTTL)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, false, cfg.FeatureFlags["premium_catalog"])
	assert.Equal(t, true, cfg.FeatureFlags["web_research"])
}

func TestLoadConfigOptionsWinLast(t *testing.T) {
	t.Setenv("ASKCART_MAX_AUTO_TIER", "1")

	cfg, err := LoadConfig("", WithMaxAutoTier(2), WithFeatureFlag("experimental", true))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxAutoTier)
	assert.True(t, cfg.FeatureFlags["experimental"])
}

func TestValidateClampsAndRaises(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAutoTier = 4
	cfg.HaltTTL = time.Minute
	require.NoError(t, cfg.Validate())

	// The consent protocol owns tiers 3-4, so auto-escalation caps at 2
	assert.Equal(t, 2, cfg.MaxAutoTier)
	assert.Equal(t, 10*time.Minute, cfg.HaltTTL)

	cfg = DefaultConfig()
	cfg.MaxAutoTier = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.MaxAutoTier)
}

func TestValidateRejectsBadBreakerSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitFailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CircuitResetWindow = 0
	assert.Error(t, cfg.Validate())
}
