// Package hooks runs user-configured shell commands when a session changes
// state. Hooks are fire-and-forget: failures are logged, never returned.
package hooks

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var hookLog = logging.ForComponent(logging.CompHooks)

// Environment variables exported to every hook.
const (
	EnvOldState       = "WTDECK_OLD_STATE"
	EnvNewState       = "WTDECK_NEW_STATE"
	EnvWorktreePath   = "WTDECK_WORKTREE_PATH"
	EnvWorktreeBranch = "WTDECK_WORKTREE_BRANCH"
	EnvSessionID      = "WTDECK_SESSION_ID"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRate    = 5.0
	DefaultBurst   = 10
)

// Transition is one detector state change.
type Transition struct {
	SessionID    string
	WorktreePath string
	Branch       string
	Old          detect.State
	New          detect.State
}

// Env returns the hook variables for t as KEY=value pairs.
func Env(t Transition) []string {
	return []string{
		EnvOldState + "=" + string(t.Old),
		EnvNewState + "=" + string(t.New),
		EnvWorktreePath + "=" + t.WorktreePath,
		EnvWorktreeBranch + "=" + t.Branch,
		EnvSessionID + "=" + t.SessionID,
	}
}

// Options configures a Runner.
type Options struct {
	// Commands maps the new state to a shell command. Empty commands are
	// ignored.
	Commands map[detect.State]string
	Timeout  time.Duration
	// RatePerSecond and Burst pace launches across all sessions.
	RatePerSecond float64
	Burst         int
	Shell         string
}

// Runner launches hook commands asynchronously.
type Runner struct {
	mu       sync.RWMutex
	commands map[detect.State]string

	timeout time.Duration
	shell   string
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		timeout: opts.Timeout,
		shell:   opts.Shell,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		ctx:     ctx,
		cancel:  cancel,
	}
	r.SetCommands(opts.Commands)
	return r
}

// SetCommands replaces the per-state commands, e.g. after a config reload.
func (r *Runner) SetCommands(commands map[detect.State]string) {
	cp := make(map[detect.State]string, len(commands))
	for state, cmd := range commands {
		if strings.TrimSpace(cmd) != "" {
			cp[state] = cmd
		}
	}
	r.mu.Lock()
	r.commands = cp
	r.mu.Unlock()
}

// Command returns the hook configured for state.
func (r *Runner) Command(state detect.State) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commands[state]
}

// Fire starts the hook for t.New, if any, and returns immediately. Launches
// over the rate limit are delayed, not dropped.
func (r *Runner) Fire(t Transition) {
	command := r.Command(t.New)
	if command == "" || r.ctx.Err() != nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.limiter.Tokens() < 1 {
			logging.Aggregate(logging.CompHooks, "hook_delayed",
				slog.String("worktree", t.WorktreePath),
				slog.String("state", string(t.New)))
		}
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		r.run(command, t)
	}()
}

func (r *Runner) run(command string, t Transition) {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = t.WorktreePath
	cmd.Env = append(os.Environ(), Env(t)...)
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	if err != nil {
		hookLog.Warn("hook_failed",
			slog.String("worktree", t.WorktreePath),
			slog.String("state", string(t.New)),
			slog.String("command", command),
			slog.String("output", truncate(strings.TrimSpace(string(out)), 512)),
			slog.String("error", err.Error()))
		return
	}
	hookLog.Debug("hook_ran",
		slog.String("worktree", t.WorktreePath),
		slog.String("state", string(t.New)),
		slog.Duration("elapsed", time.Since(start)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Wait blocks until every launched hook has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels running hooks, waits for them, and ignores further Fire calls.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}
