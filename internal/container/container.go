// Package container runs sessions inside a development container: it awaits
// the container's "up" command and nests command lines in its "exec" prefix.
//
// Commands are passed to the PTY as discrete argv entries, so Wrap never
// quotes. ShellJoinArgs exists for log lines and for users who want to paste
// the nested command into a shell.
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var containerLog = logging.ForComponent(logging.CompContainer)

// DefaultUpTimeout bounds the up command when Spec.UpTimeout is zero.
const DefaultUpTimeout = 2 * time.Minute

// Spec describes how a worktree's container is started and entered.
type Spec struct {
	// UpCommand is run with sh -c in the worktree before spawning, e.g.
	// "devcontainer up --workspace-folder .". Empty skips the step.
	UpCommand string

	// ExecCommand is split on whitespace into the prefix placed before the
	// nested command, e.g. "devcontainer exec --workspace-folder .".
	ExecCommand string

	UpTimeout time.Duration
}

// Enabled reports whether the spec nests commands at all.
func (s *Spec) Enabled() bool {
	return s != nil && strings.TrimSpace(s.ExecCommand) != ""
}

// Runtime executes container specs. The zero value is ready to use.
type Runtime struct {
	// Shell runs UpCommand; defaults to "sh".
	Shell string
}

// Up runs spec.UpCommand in dir and waits for it under its own timeout.
func (r Runtime) Up(ctx context.Context, spec *Spec, dir string) error {
	if spec == nil || strings.TrimSpace(spec.UpCommand) == "" {
		return nil
	}
	timeout := spec.UpTimeout
	if timeout <= 0 {
		timeout = DefaultUpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, shell, "-c", spec.UpCommand)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %s", ErrUpTimeout, timeout, spec.UpCommand)
		}
		if isExitError(err) {
			return fmt.Errorf("container up %q: %s: %w", spec.UpCommand, strings.TrimSpace(string(out)), err)
		}
		return fmt.Errorf("container up %q: %w", spec.UpCommand, err)
	}

	containerLog.Info("container_up",
		slog.String("dir", dir),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// Wrap nests name and args inside spec's exec prefix. A disabled spec
// returns the command unchanged.
func (r Runtime) Wrap(spec *Spec, dir, name string, args []string) (string, []string) {
	if !spec.Enabled() {
		return name, args
	}
	prefix := ExecPrefix(spec)
	nested := make([]string, 0, len(prefix)+len(args)+1)
	nested = append(nested, prefix[1:]...)
	nested = append(nested, "--", name)
	nested = append(nested, args...)

	containerLog.Debug("container_wrap",
		slog.String("dir", dir),
		slog.String("command", ShellJoinArgs(append([]string{prefix[0]}, nested...))))
	return prefix[0], nested
}

// ExecPrefix returns the exec command split into discrete arguments.
func ExecPrefix(spec *Spec) []string {
	if !spec.Enabled() {
		return nil
	}
	return strings.Fields(spec.ExecCommand)
}

// CheckAvailable verifies that the exec prefix's binary is on PATH.
func CheckAvailable(spec *Spec) error {
	prefix := ExecPrefix(spec)
	if len(prefix) == 0 {
		return ErrNoExecCommand
	}
	if _, err := exec.LookPath(prefix[0]); err != nil {
		return fmt.Errorf("%w: %s", ErrRuntimeNotFound, prefix[0])
	}
	return nil
}

// ShellJoinArgs joins command arguments into a shell-safe string.
// Simple arguments are left unquoted for readability; everything else is
// single-quoted.
func ShellJoinArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	safe := true
	for _, c := range arg {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '/' || c == '=' || c == ':' || c == ',') {
			safe = false
			break
		}
	}
	if safe {
		return arg
	}
	escaped := strings.ReplaceAll(arg, `'`, `'"'"'`)
	return "'" + escaped + "'"
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
