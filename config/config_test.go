package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func TestLoad_DefaultsAndCredentials(t *testing.T) {
	withEnv(t, "BYBIT_API_KEY", "K")
	withEnv(t, "BYBIT_API_SECRET", "S")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "12", cfg.Trading.Seed)
	assert.Equal(t, "2", cfg.Trading.Buffer)
	assert.Equal(t, 0.75, cfg.Trading.EntryThreshold)
	assert.Equal(t, "0.6", cfg.Trading.MinProfit)
	assert.Equal(t, 0.009, cfg.Trading.MaxDrawdown)
	assert.Equal(t, 60, cfg.Engine.DiscoverySeconds)
	assert.Equal(t, "K", cfg.APIKey)
	assert.Equal(t, "S", cfg.APISecret)
}

func TestLoad_MissingCredentialsAborts(t *testing.T) {
	withEnv(t, "BYBIT_API_KEY", "")
	withEnv(t, "BYBIT_API_SECRET", "")

	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	withEnv(t, "BYBIT_API_KEY", "K")
	withEnv(t, "BYBIT_API_SECRET", "S")
	withEnv(t, "LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trading:
  seed: "24"
  entry_threshold: 0.8
engine:
  discovery_seconds: 30
log:
  level: warn
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "24", cfg.Trading.Seed)
	assert.Equal(t, 0.8, cfg.Trading.EntryThreshold)
	assert.Equal(t, 30, cfg.Engine.DiscoverySeconds)
	assert.Equal(t, "debug", cfg.Log.Level, "el entorno pisa al YAML")
}

func TestLoad_DemoCredentials(t *testing.T) {
	withEnv(t, "BYBIT_API_KEY", "")
	withEnv(t, "BYBIT_API_SECRET", "")
	withEnv(t, "BYBIT_DEMO", "1")
	withEnv(t, "BYBIT_DEMO_API_KEY", "DK")
	withEnv(t, "BYBIT_DEMO_API_SECRET", "DS")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.API.Demo)
	assert.Equal(t, "DK", cfg.APIKey)
}

func TestIntervals(t *testing.T) {
	withEnv(t, "BYBIT_API_KEY", "K")
	withEnv(t, "BYBIT_API_SECRET", "S")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "500ms", cfg.ScoringInterval().String())
	assert.Equal(t, "100ms", cfg.ExecutionInterval().String())
	assert.Equal(t, "1m0s", cfg.PerformanceInterval().String())
}
