//go:build !windows

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

// watchDumpSignal writes the log ring buffer to dir on SIGUSR1 for
// post-mortem debugging. It is a no-op when file logging is off.
func watchDumpSignal(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(usr1Chan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1Chan:
				dumpPath := filepath.Join(dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
				if err := logging.DumpRingBuffer(dumpPath); err != nil {
					logging.ForComponent(logging.CompUI).Error("crash_dump_failed",
						slog.String("error", err.Error()))
				} else {
					logging.ForComponent(logging.CompUI).Info("crash_dump_written",
						slog.String("path", dumpPath))
				}
			}
		}
	}()
}
