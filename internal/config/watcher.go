package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

// DebounceInterval coalesces the burst of events an editor save produces.
const DebounceInterval = 100 * time.Millisecond

// Watcher reloads the config file when it changes and hands the result to a
// callback.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	onChange func(*Config)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// editors that save by rename are seen too. Call Start to begin.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		path:     path,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
		onChange: onChange,
	}, nil
}

// Start runs the event loop until Stop. Must be called in a goroutine.
func (w *Watcher) Start() {
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			configLog.Warn("config_watcher_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(DebounceInterval, w.reload)
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	if _, err := os.Stat(w.path); err != nil {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		configLog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	configLog.Info("config_reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
