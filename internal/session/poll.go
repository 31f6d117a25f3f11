package session

import (
	"log/slog"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
)

// startPolling requires s.mu. The task is owned by the manager and ends when
// stopPolling closes stopPoll.
func (m *Manager) startPolling(s *Session) {
	s.ticker = m.clock.NewTicker(m.pollInterval)
	s.pollDone = make(chan struct{})
	go m.pollLoop(s, s.ticker, s.stopPoll, s.pollDone)
}

func (m *Manager) pollLoop(s *Session, t Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			m.pollOnce(s)
		}
	}
}

// pollOnce classifies the primary screen and publishes only on change.
func (m *Manager) pollOnce(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	screen := s.primary.emu.VisibleText(m.screenLines)
	next := s.strategy.DetectState(screen, s.state)
	if next != s.state && next.Valid() {
		old := s.state
		s.state = next
		m.bus.Publish(events.NewSessionStateChanged(s.ref(), old, next))
		m.fireHook(s, old, next)
	}

	if count := s.strategy.DetectBackgroundTask(screen); count != s.backgroundTasks {
		s.backgroundTasks = count
		m.bus.Publish(events.NewSessionBackgroundTasks(s.ref(), count))
	}
}

// fireHook hands the transition to the hook runner off the poll goroutine;
// the branch lookup shells out to git.
func (m *Manager) fireHook(s *Session, old, next detect.State) {
	if m.hooks == nil {
		return
	}
	t := hooks.Transition{
		SessionID:    s.id,
		WorktreePath: s.worktreePath,
		Old:          old,
		New:          next,
	}
	m.hookWG.Add(1)
	go func() {
		defer m.hookWG.Done()
		if m.branches != nil {
			branch, err := m.branches.CurrentBranch(t.WorktreePath)
			if err != nil {
				sessionLog.Debug("branch_lookup_failed",
					slog.String("worktree", t.WorktreePath),
					slog.String("error", err.Error()))
			}
			t.Branch = branch
		}
		m.hooks.Fire(t)
	}()
}
