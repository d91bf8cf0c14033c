package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARGUS_DB_PATH", filepath.Join(dir, "sub", "argus.db"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "mock", cfg.Device.Mode)
	assert.Nil(t, cfg.Device.DefaultDeviceID)
	assert.Equal(t, 8, cfg.Exec.Workers)
	assert.Equal(t, time.Second, cfg.Exec.RetryBaseDelay)
	assert.Equal(t, 15*time.Minute, cfg.Exec.StaleTaskAfter)
	assert.Empty(t, cfg.NotifyURLs)
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARGUS_DB_PATH", filepath.Join(dir, "argus.db"))
	t.Setenv("ARGUS_DEVICE_MODE", "HTTP")
	t.Setenv("ARGUS_DEVICE_ID", "7")
	t.Setenv("ARGUS_EXEC_WORKERS", "0")
	t.Setenv("ARGUS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("ARGUS_NOTIFY_URLS", "generic://hooks.local/a, ,discord://tok@1")
	t.Setenv("ARGUS_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Device.Mode)
	require.NotNil(t, cfg.Device.DefaultDeviceID)
	assert.Equal(t, 7, *cfg.Device.DefaultDeviceID)
	assert.Equal(t, 1, cfg.Exec.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Exec.RetryBaseDelay)
	assert.Equal(t, []string{"generic://hooks.local/a", "discord://tok@1"}, cfg.NotifyURLs)
	assert.True(t, cfg.Debug)
}

func TestLoad_RejectsUnknownDeviceMode(t *testing.T) {
	t.Setenv("ARGUS_DB_PATH", filepath.Join(t.TempDir(), "argus.db"))
	t.Setenv("ARGUS_DEVICE_MODE", "telnet")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadDeviceID(t *testing.T) {
	t.Setenv("ARGUS_DB_PATH", filepath.Join(t.TempDir(), "argus.db"))
	t.Setenv("ARGUS_DEVICE_ID", "core-switch")

	_, err := Load()
	assert.Error(t, err)
}
