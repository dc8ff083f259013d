package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "dev")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7300, cfg.ControlPort)
	require.Equal(t, 6, cfg.ReconnectAttempts)
	require.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
	require.Equal(t, 45*time.Second, cfg.DialTimeout)
	require.NotEmpty(t, cfg.STUNServers)
	require.NotEmpty(t, cfg.RelayURL)
	require.NotEmpty(t, cfg.TokenPath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
mode: debug
control_port: 9100
relay_url: wss://relay.example.org/channel
identity_url: https://portal.example.org
token_path: /tmp/telecall-token
dial_timeout: 20s
reconnect_attempts: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o600))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Mode)
	require.Equal(t, 9100, cfg.ControlPort)
	require.Equal(t, "wss://relay.example.org/channel", cfg.RelayURL)
	require.Equal(t, 20*time.Second, cfg.DialTimeout)
	require.Equal(t, 2, cfg.ReconnectAttempts)
	// Untouched keys keep their defaults.
	require.Equal(t, 54*time.Second, cfg.PingPeriod)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
control_port: 99999
relay_url: not-a-url
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o600))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}
