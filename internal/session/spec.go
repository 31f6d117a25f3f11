package session

import (
	"os"
	"slices"
	"sort"

	"github.com/asheshgoplani/worktree-deck/internal/container"
	"github.com/asheshgoplani/worktree-deck/internal/ptyproc"
)

// DefaultFallbackExitCodes is used when CommandSpec.FallbackExitCodes is empty.
var DefaultFallbackExitCodes = []int{1}

// CommandSpec describes how a session's primary process is launched and
// relaunched.
type CommandSpec struct {
	Command string
	Args    []string

	// FallbackArgs replace Args for the single retry after a fallback-eligible
	// exit. Nil retries with no arguments.
	FallbackArgs []string

	// FallbackExitCodes lists exit codes that trigger the retry. Empty means
	// DefaultFallbackExitCodes.
	FallbackExitCodes []int

	Env map[string]string

	// Container, when enabled, nests every command in its exec prefix after
	// its up command succeeds.
	Container *container.Spec

	// Shell is the companion shell; empty uses the manager default.
	Shell string

	// Companion starts the secondary shell together with the primary process.
	// Without it the shell is started on the first ToggleMode.
	Companion bool
}

func (c CommandSpec) fallbackEligible(status ptyproc.ExitStatus) bool {
	if status.Signaled() {
		return false
	}
	codes := c.FallbackExitCodes
	if len(codes) == 0 {
		codes = DefaultFallbackExitCodes
	}
	return slices.Contains(codes, status.Code)
}

// envList flattens Env in key order.
func (c CommandSpec) envList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
