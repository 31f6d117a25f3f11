package container

import "errors"

var (
	// ErrUpTimeout indicates the up command did not finish in time.
	ErrUpTimeout = errors.New("container up timed out")

	// ErrNoExecCommand indicates a spec without an exec command.
	ErrNoExecCommand = errors.New("container exec command is empty")

	// ErrRuntimeNotFound indicates the exec binary is not installed.
	ErrRuntimeNotFound = errors.New("container runtime not found in PATH")
)
