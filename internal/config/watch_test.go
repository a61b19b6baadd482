package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadNotifiesOnRuntimeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 3\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w := newWatcher(path, initial)
	var got []Runtime
	w.Subscribe(func(rt Runtime) { got = append(got, rt) })

	writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 5\n  base_backoff_ms: 250\napp:\n  log_level: debug\n")
	require.NoError(t, w.reload())
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Retry.MaxAttempts)
	assert.Equal(t, 250, got[0].Retry.BaseBackoffMS)
	assert.Equal(t, "debug", got[0].LogLevel)
	assert.Equal(t, int64(2), w.Current().Version)

	// Same runtime settings: nothing to push.
	writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 5\n  base_backoff_ms: 250\napp:\n  log_level: debug\n  env: prod\n")
	require.NoError(t, w.reload())
	assert.Len(t, got, 1)
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 2\n")
	initial, err := Load(path)
	require.NoError(t, err)
	w := newWatcher(path, initial)

	writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 0\n")
	assert.Error(t, w.reload())
	assert.Equal(t, 2, w.Current().Retry.MaxAttempts)
}

func TestWatcherStopIgnoresChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 2\n")
	initial, err := Load(path)
	require.NoError(t, err)
	w := newWatcher(path, initial)
	called := false
	w.Subscribe(func(Runtime) { called = true })
	w.Stop()

	writeFile(t, dir, "config.yaml", "retry:\n  max_attempts: 4\n")
	require.NoError(t, w.reload())
	assert.False(t, called)
	assert.Equal(t, 2, w.Current().Retry.MaxAttempts)
}

func TestWatchRequiresInitialConfig(t *testing.T) {
	_, err := Watch("config.yaml", nil)
	assert.Error(t, err)
	_, err = Watch("", &Config{})
	assert.Error(t, err)
}
