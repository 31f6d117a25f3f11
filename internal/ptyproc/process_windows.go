//go:build windows

package ptyproc

import "context"

// Process is unavailable on Windows; Start always fails.
type Process struct{}

func Start(ctx context.Context, opts Options) (*Process, error) {
	return nil, ErrUnsupported
}

func (p *Process) PID() int                    { return 0 }
func (p *Process) Done() <-chan struct{}       { return nil }
func (p *Process) Status() (ExitStatus, bool)  { return ExitStatus{}, false }
func (p *Process) Write(data []byte) error     { return ErrProcessDone }
func (p *Process) Resize(cols, rows int) error { return ErrProcessDone }
func (p *Process) Kill() error                 { return ErrProcessDone }
