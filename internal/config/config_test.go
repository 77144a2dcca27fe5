package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	Reset()
	t.Cleanup(Reset)

	require.NoError(t, Initialize())
	assert.Equal(t, 10*time.Second, LockTimeout())
	assert.Equal(t, 5*time.Second, GracePeriod())
	assert.Equal(t, 1000, MaxBufferSize())
	assert.Equal(t, 30, DedupeTTLDays())
	assert.Equal(t, 50*time.Millisecond, SchedulerTick())
	assert.Equal(t, time.Monday, WeekStart())
	assert.Equal(t, "info", LogLevel())

	tz, err := Timezone()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Brussels", tz.String())
}

func TestConfigFileWalkUp(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".kira"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".kira", "config.yaml"), []byte(
		"vault:\n  tz: UTC\n  lock_timeout: 2s\nbuffer:\n  max_size: 50\n"), 0o644))
	sub := filepath.Join(root, "tasks")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	t.Chdir(sub)
	Reset()
	t.Cleanup(Reset)
	require.NoError(t, Initialize())

	assert.Equal(t, 2*time.Second, LockTimeout())
	assert.Equal(t, 50, MaxBufferSize())
	tz, err := Timezone()
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz.String())
}

func TestEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KIRA_DEDUPE_TTL_DAYS", "7")
	t.Setenv("KIRA_LOG_LEVEL", "debug")
	Reset()
	t.Cleanup(Reset)
	require.NoError(t, Initialize())

	assert.Equal(t, 7, DedupeTTLDays())
	assert.Equal(t, "debug", LogLevel())
}

func TestGracePeriodClamped(t *testing.T) {
	t.Chdir(t.TempDir())
	Reset()
	t.Cleanup(Reset)

	t.Setenv("KIRA_BUFFER_GRACE_PERIOD", "30s")
	Reset()
	assert.Equal(t, 10*time.Second, GracePeriod())

	t.Setenv("KIRA_BUFFER_GRACE_PERIOD", "1s")
	Reset()
	assert.Equal(t, 3*time.Second, GracePeriod())

	// Sub-second values pass through untouched for test harnesses.
	t.Setenv("KIRA_BUFFER_GRACE_PERIOD", "100ms")
	Reset()
	assert.Equal(t, 100*time.Millisecond, GracePeriod())
}

func TestVaultPathDiscovery(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".kira"), 0o750))
	sub := filepath.Join(root, "notes")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	t.Chdir(sub)
	Reset()
	t.Cleanup(Reset)
	require.NoError(t, Initialize())

	resolved, err := filepath.EvalSymlinks(VaultPath())
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}
