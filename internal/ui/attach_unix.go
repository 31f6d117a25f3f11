//go:build !windows

package ui

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/muesli/cancelreader"
	"golang.org/x/term"

	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/session"
)

// Attach key bytes.
const (
	keyDetach = 0x11 // Ctrl+Q
	keyToggle = 0x1d // Ctrl+]
)

// controlSeqTimeout drops the terminal's replies to capability queries that
// arrive right after raw mode is entered.
const controlSeqTimeout = 50 * time.Millisecond

// attachCmd implements tea.ExecCommand. It puts the host terminal in raw
// mode, replays the session's history and streams live output until Ctrl+Q
// or the session ends.
type attachCmd struct {
	mgr    *session.Manager
	path   string
	stdin  *os.File
	stdout io.Writer
}

func newAttachCmd(mgr *session.Manager, path string) *attachCmd {
	return &attachCmd{mgr: mgr, path: path, stdin: os.Stdin, stdout: os.Stdout}
}

func (a *attachCmd) SetStdin(r io.Reader) {
	if f, ok := r.(*os.File); ok {
		a.stdin = f
	}
}

func (a *attachCmd) SetStdout(w io.Writer) { a.stdout = w }
func (a *attachCmd) SetStderr(io.Writer)   {}

func (a *attachCmd) Run() error {
	// Subscribe before attaching so the restore is not missed.
	sub, err := a.mgr.Bus().SubscribeSession(a.path)
	if err != nil {
		return err
	}
	defer sub.Close()

	fd := int(a.stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	fmt.Fprint(a.stdout, "\x1b[2J\x1b[H")
	a.syncSize()

	if err := a.mgr.SetAttached(a.path, true); err != nil {
		return err
	}
	defer func() {
		if err := a.mgr.SetAttached(a.path, false); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			uiLog.Debug("detach_failed", slog.String("worktree", a.path), slog.String("error", err.Error()))
		}
	}()

	in, err := cancelreader.NewReader(a.stdin)
	if err != nil {
		return fmt.Errorf("failed to wrap stdin: %w", err)
	}
	defer in.Close()

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)

	var wg sync.WaitGroup
	detachCh := make(chan struct{})
	inputErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pumpInput(in, detachCh, inputErr)
	}()
	defer func() {
		in.Cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-detachCh:
			return nil
		case err := <-inputErr:
			return err
		case <-sigwinch:
			a.syncSize()
		case e, ok := <-sub.C():
			if !ok {
				return nil
			}
			if done := a.render(e); done {
				return nil
			}
		}
	}
}

// render writes one event to the host terminal and reports whether the
// session is gone.
func (a *attachCmd) render(e events.Event) bool {
	switch ev := e.(type) {
	case events.SessionData:
		_, _ = a.stdout.Write(ev.Data)
	case events.SessionRestore:
		fmt.Fprint(a.stdout, "\x1b[2J\x1b[H")
		for _, chunk := range ev.Chunks {
			_, _ = a.stdout.Write(chunk)
		}
	case events.SessionExit:
		fmt.Fprintf(a.stdout, "\r\n[session ended: %s]\r\n", ev.Status.Reason)
	case events.SessionDestroyed:
		return true
	}
	return false
}

// pumpInput forwards keystrokes to the session. Ctrl+Q closes detachCh;
// Ctrl+] switches between the assistant and the shell.
func (a *attachCmd) pumpInput(in cancelreader.CancelReader, detachCh chan<- struct{}, errCh chan<- error) {
	start := time.Now()
	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		if err != nil {
			if !errors.Is(err, cancelreader.ErrCanceled) && !errors.Is(err, io.EOF) {
				errCh <- fmt.Errorf("stdin read error: %w", err)
			}
			return
		}
		if time.Since(start) < controlSeqTimeout {
			continue
		}

		if n == 1 {
			switch buf[0] {
			case keyDetach:
				close(detachCh)
				return
			case keyToggle:
				if _, err := a.mgr.ToggleMode(a.path); err != nil {
					uiLog.Warn("toggle_failed", slog.String("worktree", a.path), slog.String("error", err.Error()))
				}
				continue
			}
		}

		if err := a.mgr.Write(a.path, buf[:n]); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return
			}
			uiLog.Debug("input_dropped", slog.String("worktree", a.path), slog.String("error", err.Error()))
		}
	}
}

func (a *attachCmd) syncSize() {
	ws, err := pty.GetsizeFull(a.stdin)
	if err != nil {
		return
	}
	if err := a.mgr.Resize(a.path, int(ws.Cols), int(ws.Rows)); err != nil {
		uiLog.Debug("attach_resize_failed", slog.String("worktree", a.path), slog.String("error", err.Error()))
	}
}
