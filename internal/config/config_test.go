package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, 60*time.Second, cfg.Bridge.RunTimeout)
	assert.True(t, cfg.Bridge.Enabled)

	assert.Equal(t, "com.kieronquinn.app.smartspacer", cfg.Session.PackageName)
	assert.Equal(t, 60*time.Second, cfg.Session.UpdateInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Session.TargetDebounce)

	assert.Equal(t, 5, cfg.Supervisor.CrashThreshold)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.CrashWindow)

	assert.Equal(t, 5*time.Second, cfg.Pipeline.RefreshBuffer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Debug)
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"BRIDGE_SOCKET":           "/tmp/bridge.sock",
		"BRIDGE_RUN_TIMEOUT":      "30s",
		"PACKAGE_NAME":            "com.example.host",
		"SESSION_UPDATE_INTERVAL": "2m",
		"CRASH_THRESHOLD":         "3",
		"LOG_LEVEL":               "debug",
		"DEBUG":                   "true",
	}

	for key, value := range envVars {
		require.NoError(t, os.Setenv(key, value))
		defer os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/tmp/bridge.sock", cfg.Bridge.SocketPath)
	assert.Equal(t, 30*time.Second, cfg.Bridge.RunTimeout)
	assert.Equal(t, "com.example.host", cfg.Session.PackageName)
	assert.Equal(t, 2*time.Minute, cfg.Session.UpdateInterval)
	assert.Equal(t, 3, cfg.Supervisor.CrashThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Debug)

	// untouched values keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Supervisor.CrashWindow)
}

func TestLoadOrDefaultOnInvalidEnv(t *testing.T) {
	require.NoError(t, os.Setenv("CRASH_THRESHOLD", "many"))
	defer os.Unsetenv("CRASH_THRESHOLD")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 5, cfg.Supervisor.CrashThreshold)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartspacer.toml")
	content := `
debug = true

[server]
port = "8123"

[bridge]
socket_path = "/run/bridge.sock"

[plugins]
manifest_dir = "/etc/smartspacer/plugins"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "8123", cfg.Server.Port)
	assert.Equal(t, "/run/bridge.sock", cfg.Bridge.SocketPath)
	assert.Equal(t, "/etc/smartspacer/plugins", cfg.Plugins.ManifestDir)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}
