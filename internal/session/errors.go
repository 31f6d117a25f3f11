package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is wrapped in a ProcessError when an operation names a
	// worktree with no live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProcessNotRunning is returned when input is sent to a mode whose
	// process is gone or still being respawned.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrEmptyCommand is wrapped in a ConfigError when a CommandSpec has no
	// command.
	ErrEmptyCommand = errors.New("command is empty")
)

// ProcessError reports a failure to spawn, reach, or control a session's
// process.
type ProcessError struct {
	Op   string
	Path string
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ConfigError reports a CommandSpec or detection strategy that cannot be
// resolved. No session is created.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func notFound(op, path string) error {
	return &ProcessError{Op: op, Path: path, Err: ErrSessionNotFound}
}
