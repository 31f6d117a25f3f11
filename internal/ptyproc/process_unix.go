//go:build !windows

package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var ptyLog = logging.ForComponent(logging.CompPTY)

// drainTimeout bounds how long the exit callback waits for buffered output
// after the process is reaped. Background children holding the tty open would
// otherwise delay exit forever.
const drainTimeout = 500 * time.Millisecond

const readBufferSize = 32 * 1024

// killGracePeriod is how long Kill waits before sending SIGKILL.
var killGracePeriod = 3 * time.Second

// Process is a running command attached to a PTY.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pid  int

	writeMu    sync.Mutex
	exited     atomic.Bool
	escalating atomic.Bool
	readDone   chan struct{}
	done       chan struct{}
	status     ExitStatus
}

// Start launches opts.Name under a new PTY of the given size. The process
// becomes the leader of its own session so Kill can signal the whole group.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Name == "" {
		return nil, errors.New("command is required")
	}

	cmd := exec.Command(opts.Name, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(os.Environ(), opts.Env)

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Name, err)
	}

	p := &Process{
		cmd:      cmd,
		ptmx:     ptmx,
		pid:      cmd.Process.Pid,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	ptyLog.Debug("process_started",
		slog.String("command", opts.Name),
		slog.Int("pid", p.pid),
		slog.String("dir", opts.Dir))

	go p.readLoop(opts.OnData)
	go p.waitLoop(opts.OnExit)
	return p, nil
}

func buildEnv(base, extra []string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)
	hasTerm := false
	for _, kv := range extra {
		if strings.HasPrefix(kv, "TERM=") {
			hasTerm = true
		}
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	return append(env, extra...)
}

func (p *Process) readLoop(onData func([]byte)) {
	defer close(p.readDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onData(chunk)
		}
		if err != nil {
			// EIO is how Linux reports that the slave side closed.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				ptyLog.Debug("pty_read_error", slog.Int("pid", p.pid), slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (p *Process) waitLoop(onExit func(ExitStatus)) {
	err := p.cmd.Wait()
	status := exitStatus(err)

	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
		ptyLog.Debug("pty_drain_timeout", slog.Int("pid", p.pid))
	}
	_ = p.ptmx.Close()
	<-p.readDone

	p.status = status
	p.exited.Store(true)
	close(p.done)

	ptyLog.Debug("process_exited",
		slog.Int("pid", p.pid),
		slog.Int("code", status.Code),
		slog.String("signal", status.Signal))

	if onExit != nil {
		onExit(status)
	}
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal().String()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	return ExitStatus{Code: -1}
}

// PID returns the process id.
func (p *Process) PID() int {
	return p.pid
}

// Done is closed after the process exited and OnExit is about to run.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Status returns the exit status once Done is closed.
func (p *Process) Status() (ExitStatus, bool) {
	if !p.exited.Load() {
		return ExitStatus{}, false
	}
	return p.status, true
}

// Write sends input to the process's terminal.
func (p *Process) Write(data []byte) error {
	if p.exited.Load() {
		return ErrProcessDone
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.ptmx.Write(data); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrProcessDone
		}
		return fmt.Errorf("write pty: %w", err)
	}
	return nil
}

// Resize changes the terminal size seen by the process.
func (p *Process) Resize(cols, rows int) error {
	if p.exited.Load() {
		return ErrProcessDone
	}
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrProcessDone
		}
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Kill hangs up the terminal and sends SIGTERM to the process group. A group
// still alive after killGracePeriod gets SIGKILL. Interactive shells ignore
// SIGTERM but exit on the hangup.
func (p *Process) Kill() error {
	if p.exited.Load() {
		return ErrProcessDone
	}
	_ = p.ptmx.Close()
	if err := p.signal(syscall.SIGTERM); err != nil {
		return err
	}
	if p.escalating.CompareAndSwap(false, true) {
		go p.killAfter(killGracePeriod)
	}
	return nil
}

func (p *Process) signal(sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(p.pid); err == nil {
		err = syscall.Kill(-pgid, sig)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessDone
		}
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrProcessDone
		}
		return fmt.Errorf("signal %d: %w", p.pid, err)
	}
	return nil
}

func (p *Process) killAfter(grace time.Duration) {
	select {
	case <-p.done:
	case <-time.After(grace):
		ptyLog.Debug("kill_escalated", slog.Int("pid", p.pid))
		_ = p.signal(syscall.SIGKILL)
	}
}
