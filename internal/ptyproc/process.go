// Package ptyproc runs a command attached to a pseudo-terminal and reports its
// output and exit through callbacks.
package ptyproc

import (
	"errors"
	"fmt"
)

// ErrProcessDone is returned when writing to, resizing or killing a process
// that already exited.
var ErrProcessDone = errors.New("process already exited")

// ErrUnsupported is returned by Start on platforms without PTY support.
var ErrUnsupported = errors.New("pty processes are not supported on this platform")

// Options configures Start.
type Options struct {
	Name string
	Args []string
	Dir  string
	// Env entries ("KEY=value") are appended to the current environment.
	Env []string

	Cols int
	Rows int

	// OnData receives every output chunk in order. The slice is owned by
	// the callee.
	OnData func([]byte)
	// OnExit is called exactly once, after the last OnData call.
	OnExit func(ExitStatus)
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code   int
	Signal string
}

// Signaled reports whether the process was terminated by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != ""
}

func (s ExitStatus) String() string {
	if s.Signaled() {
		return "signal: " + s.Signal
	}
	return fmt.Sprintf("exit status %d", s.Code)
}
