package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsThenTomlOverrides(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "config.toml", `
shm_namespace = "custom"

[control_channel]
uri = "nats://127.0.0.1:4222"
stream_id = 42
`)

	cfg, err := Load(tomlPath, "")
	require.NoError(t, err)

	assert.Equal(t, "custom", cfg.ShmNamespace)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.ControlChannel.URI)
	assert.EqualValues(t, 42, cfg.ControlChannel.StreamID)
	// fields the TOML didn't touch keep their Defaults() value.
	assert.Equal(t, "/dev/shm", cfg.ShmBaseDir)
	assert.EqualValues(t, 3, cfg.LeaseExpiryGraceIntervals)
}

func TestLoadFailsOnMissingTomlFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "")
	assert.Error(t, err)
}

func TestLoadAppliesDotenvBeforeEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "config.toml", "")
	envPath := writeFile(t, dir, ".env", "TENSORPOOL_SHM_NAMESPACE=from-dotenv\n")

	cfg, err := Load(tomlPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.ShmNamespace)
}

func TestApplyEnvOverridesWinsOverTomlAndDefaults(t *testing.T) {
	cfg := Defaults()
	t.Setenv("TENSORPOOL_SHM_BASE_DIR", "/mnt/tensorpool")
	ApplyEnvOverrides(&cfg)
	assert.Equal(t, "/mnt/tensorpool", cfg.ShmBaseDir)
}

func TestExchangesMapRoundTrips(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "config.toml", `
[exchanges.hyperliquid]
enabled = true
ws_url = "wss://example.invalid/ws"
[exchanges.hyperliquid.symbols]
BTC = "BTC_USDC_PERP"
`)

	cfg, err := Load(tomlPath, "")
	require.NoError(t, err)

	hl, ok := cfg.Exchanges["hyperliquid"]
	require.True(t, ok)
	assert.True(t, hl.Enabled)
	assert.Equal(t, "BTC_USDC_PERP", hl.Symbols["BTC"])
}
