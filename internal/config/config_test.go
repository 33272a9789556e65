package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Environment)
	assert.Equal(t, time.Hour, cfg.Engine.StalenessThreshold)
	assert.Equal(t, 0.02, cfg.Engine.HiccupThreshold)
	assert.Equal(t, 0.005, cfg.Engine.FloorThreshold)
	assert.Equal(t, 10.0, cfg.Engine.Sensitivity)
	assert.Equal(t, 100000.0, cfg.Engine.TargetNotional)
	assert.Equal(t, 24, cfg.Volatility.Window)
	assert.Equal(t, 5*time.Second, cfg.Venues.Kraken.Timeout)
	assert.Equal(t, 500, cfg.Venues.Kraken.Depth)
	assert.Len(t, cfg.Assets, 3)

	assert.Equal(t, "USDJPY", cfg.Venues.Kraken.Symbols["jpy"])
	assert.Equal(t, []string{"JPY"}, cfg.Venues.Kraken.Invert)

	btc, ok := cfg.Asset("btc")
	require.True(t, ok)
	assert.Equal(t, "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c", btc.Feed)
}

func TestLoadAssetsAndEnvOverride(t *testing.T) {
	t.Setenv("ATTESTOR_IDENTITY_PRIVATE_KEY", "0xabc")
	path := writeConfig(t, `
assets:
  - symbol: ETH
    feed: "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
engine:
  staleness_threshold: 30m
venues:
  kraken:
    depth: 100
    symbols:
      ETH: XETHZUSD
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", cfg.Identity.PrivateKey)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, "ETH", cfg.Assets[0].Symbol)
	assert.Equal(t, 30*time.Minute, cfg.Engine.StalenessThreshold)
	assert.Equal(t, 100, cfg.Venues.Kraken.Depth)
	assert.Equal(t, "XETHZUSD", cfg.Venues.Kraken.Symbols["eth"])
}

func TestValidateRejectsBadFeed(t *testing.T) {
	_, err := Load(writeConfig(t, "assets:\n  - symbol: BTC\n    feed: nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid address")
}

func TestValidateRejectsFloorAboveBase(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  floor_threshold: 0.5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floor_threshold")
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "alerting:\n  telegram:\n    enabled: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot_token")
}

func TestValidateRejectsZeroSensitivity(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  sensitivity: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensitivity")
}
