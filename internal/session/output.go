package session

import (
	"log/slog"

	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
	"github.com/asheshgoplani/worktree-deck/internal/ptyproc"
)

// handleOutput routes one chunk: emulator, history, activity, then live data
// when a viewer is attached to that mode.
func (m *Manager) handleOutput(s *Session, mode events.Mode, gen uint64, chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotFor(mode)
	if s.closed || sl.gen != gen {
		logging.Aggregate(logging.CompSession, "stale_chunk_dropped",
			slog.String("worktree", s.worktreePath),
			slog.String("mode", string(mode)))
		return
	}

	sl.emu.Write(chunk)
	sl.hist.Append(chunk)
	s.lastActivity = m.clock.Now()

	if s.attached && mode == s.activeMode {
		m.bus.Publish(events.NewSessionData(s.ref(), mode, chunk))
	}
}

// handlePrimaryExit runs the one-shot fallback retry or tears the session
// down.
func (m *Manager) handlePrimaryExit(s *Session, gen uint64, status ptyproc.ExitStatus) {
	<-s.ready

	s.mu.Lock()
	if s.closed || s.primary.gen != gen {
		s.mu.Unlock()
		return
	}
	s.primary.proc = nil

	if !s.isPrimaryCommand || !s.spec.fallbackEligible(status) {
		m.destroyLocked(s, events.ExitInfo{Reason: events.ExitProcessExited, Code: status.Code, Signal: status.Signal})
		s.mu.Unlock()
		m.finishDestroy(s, status)
		return
	}

	s.isPrimaryCommand = false
	newGen := s.bumpGen()
	s.primary.gen = newGen
	spec := s.spec
	s.mu.Unlock()

	sessionLog.Info("fallback_retry",
		slog.String("id", s.id),
		slog.String("worktree", s.worktreePath),
		slog.Int("exit_code", status.Code),
		slog.Any("fallback_args", spec.FallbackArgs))

	name, args := m.containers.Wrap(spec.Container, s.worktreePath, spec.Command, spec.FallbackArgs)
	proc, err := m.spawn(m.ctx, s, events.ModePrimary, newGen, name, args)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			_ = proc.Kill()
		}
		return
	}
	if err != nil {
		sessionLog.Warn("fallback_spawn_failed",
			slog.String("worktree", s.worktreePath),
			slog.String("error", err.Error()))
		m.destroyLocked(s, events.ExitInfo{Reason: events.ExitFallbackFailed, Code: status.Code, Signal: status.Signal})
		s.mu.Unlock()
		m.finishDestroy(s, status)
		return
	}
	s.primary.proc = proc
	s.primary.command, s.primary.args = spec.Command, spec.FallbackArgs
	m.bus.Publish(events.NewSessionProcessReplaced(s.ref(), spec.Command, spec.FallbackArgs, proc.PID()))
	s.mu.Unlock()
}

func (m *Manager) finishDestroy(s *Session, status ptyproc.ExitStatus) {
	m.unregister(s)
	s.stopPolling()
	sessionLog.Info("session_exited",
		slog.String("id", s.id),
		slog.String("worktree", s.worktreePath),
		slog.String("status", status.String()))
}

// handleSecondaryExit drops the companion shell. If it was active the
// session falls back to the primary mode and replays its history.
func (m *Manager) handleSecondaryExit(s *Session, gen uint64, status ptyproc.ExitStatus) {
	<-s.ready

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.secondary.gen != gen {
		return
	}
	s.secondary.proc = nil
	sessionLog.Debug("companion_exited",
		slog.String("worktree", s.worktreePath),
		slog.String("status", status.String()))

	if s.activeMode == events.ModeSecondary {
		s.activeMode = events.ModePrimary
		if s.attached {
			m.publishRestoreLocked(s, events.ModePrimary)
		}
	}
}
