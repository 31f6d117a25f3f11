package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`[status_hooks]
idle = "echo one"
`), 0o600))

	var latest atomic.Pointer[Config]
	var calls atomic.Int32
	w, err := NewWatcher(path, func(cfg *Config) {
		latest.Store(cfg)
		calls.Add(1)
	})
	require.NoError(t, err)
	go w.Start()
	t.Cleanup(w.Stop)

	// Several writes inside the debounce window produce one reload.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`[status_hooks]
idle = "echo two"
`), 0o600))
	}

	require.Eventually(t, func() bool { return latest.Load() != nil }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "echo two", latest.Load().HookCommands()[detect.StateIdle])

	time.Sleep(3 * DebounceInterval)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherIgnoresOtherFilesAndBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*Config) { calls.Add(1) })
	require.NoError(t, err)
	go w.Start()
	t.Cleanup(w.Stop)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("[broken"), 0o600))

	time.Sleep(4 * DebounceInterval)
	assert.Zero(t, calls.Load())
}

func TestWatcherCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "dir", FileName)
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.Stop()

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
