package ui

import (
	"context"
	"log/slog"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var uiLog = logging.ForComponent(logging.CompUI)

// ThemeWatcher follows the OS dark mode setting for the "system" theme.
type ThemeWatcher struct {
	changeCh  chan bool // true=dark, false=light; holds only the latest value
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewThemeWatcher creates and starts a theme watcher. It returns nil when the
// platform cannot report dark mode changes.
func NewThemeWatcher(parentCtx context.Context) *ThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)

	changes, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		uiLog.Warn("theme_watcher_init_failed", slog.String("error", err.Error()))
		return nil
	}

	tw := &ThemeWatcher{
		changeCh: make(chan bool, 1),
		closeCh:  make(chan struct{}),
	}
	go tw.watchLoop(cancel, changes, errs)
	return tw
}

func (tw *ThemeWatcher) watchLoop(cancel context.CancelFunc, changes <-chan bool, errs <-chan error) {
	defer cancel()
	for {
		select {
		case <-tw.closeCh:
			return
		case isDark, ok := <-changes:
			if !ok {
				return
			}
			tw.publish(isDark)
		case err, ok := <-errs:
			if ok && err != nil {
				uiLog.Warn("theme_watcher_error", slog.String("error", err.Error()))
			}
		}
	}
}

// publish replaces any unread value with isDark.
func (tw *ThemeWatcher) publish(isDark bool) {
	select {
	case <-tw.changeCh:
	default:
	}
	select {
	case tw.changeCh <- isDark:
	default:
	}
}

// Changes delivers dark mode changes.
func (tw *ThemeWatcher) Changes() <-chan bool {
	return tw.changeCh
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (tw *ThemeWatcher) Close() {
	tw.closeOnce.Do(func() {
		close(tw.closeCh)
	})
}
