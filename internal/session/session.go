// Package session owns the lifecycle of assistant processes running in Git
// worktrees: spawning, output routing, state polling, fallback retry and
// teardown. Everything a UI needs to know is announced on the events.Bus.
package session

import (
	"sync"
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/history"
	"github.com/asheshgoplani/worktree-deck/internal/vterm"
)

// slot is one side of a session: a process with its screen and history.
// gen changes every time the side is (re)spawned so callbacks from a replaced
// process can be recognised and dropped.
type slot struct {
	proc    Process
	gen     uint64
	emu     *vterm.Emulator
	hist    *history.Buffer
	command string
	args    []string
}

func (sl *slot) pid() int {
	if sl.proc == nil {
		return 0
	}
	return sl.proc.PID()
}

// Session is one interactive unit bound to a worktree. All mutable fields are
// guarded by mu; output callbacks, poll ticks and manager operations take it
// for the whole of their handler so they never interleave.
type Session struct {
	id           string
	worktreePath string
	spec         CommandSpec
	strategyID   detect.StrategyID
	strategy     detect.Strategy
	createdAt    time.Time

	mu               sync.Mutex
	primary          slot
	secondary        slot
	state            detect.State
	activeMode       events.Mode
	attached         bool
	isPrimaryCommand bool
	lastActivity     time.Time
	backgroundTasks  int
	cols, rows       int
	nextGen          uint64
	closed           bool

	// ready is closed once the session is registered; exit handling waits on
	// it so a process that dies during creation is torn down after, not
	// before, SessionCreated.
	ready    chan struct{}
	ticker   Ticker
	stopPoll chan struct{}
	pollDone chan struct{}
	stopOnce sync.Once
}

// Info is a point-in-time copy of a session's observable state.
type Info struct {
	ID               string
	WorktreePath     string
	State            detect.State
	ActiveMode       events.Mode
	Attached         bool
	IsPrimaryCommand bool
	StrategyID       detect.StrategyID
	Command          string
	Args             []string
	PrimaryPID       int
	SecondaryPID     int
	BackgroundTasks  int
	LastActivity     time.Time
	CreatedAt        time.Time
}

func (s *Session) ID() string           { return s.id }
func (s *Session) WorktreePath() string { return s.worktreePath }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) ref() events.SessionRef {
	return events.SessionRef{ID: s.id, WorktreePath: s.worktreePath}
}

// State returns the last detected state.
func (s *Session) State() detect.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveMode returns the mode receiving input and live output.
func (s *Session) ActiveMode() events.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeMode
}

func (s *Session) IsAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// IsPrimaryCommand is false once the fallback retry has been used.
func (s *Session) IsPrimaryCommand() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPrimaryCommand
}

func (s *Session) StrategyID() detect.StrategyID { return s.strategyID }

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) BackgroundTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backgroundTasks
}

// History returns a copy of the retained output for mode, oldest first.
func (s *Session) History(mode events.Mode) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotFor(mode).hist.Snapshot()
}

// Screen returns the last n non-blank rendered lines of mode's emulator.
func (s *Session) Screen(mode events.Mode, n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotFor(mode).emu.VisibleText(n)
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.id,
		WorktreePath:     s.worktreePath,
		State:            s.state,
		ActiveMode:       s.activeMode,
		Attached:         s.attached,
		IsPrimaryCommand: s.isPrimaryCommand,
		StrategyID:       s.strategyID,
		Command:          s.primary.command,
		Args:             append([]string(nil), s.primary.args...),
		PrimaryPID:       s.primary.pid(),
		SecondaryPID:     s.secondary.pid(),
		BackgroundTasks:  s.backgroundTasks,
		LastActivity:     s.lastActivity,
		CreatedAt:        s.createdAt,
	}
}

// slotFor requires mu.
func (s *Session) slotFor(mode events.Mode) *slot {
	if mode == events.ModeSecondary {
		return &s.secondary
	}
	return &s.primary
}

// bumpGen requires mu.
func (s *Session) bumpGen() uint64 {
	s.nextGen++
	return s.nextGen
}

// stopPolling stops the ticker and waits for the poll goroutine. It must be
// called without mu held, after closed is set.
func (s *Session) stopPolling() {
	s.stopOnce.Do(func() {
		close(s.stopPoll)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	if s.pollDone != nil {
		<-s.pollDone
	}
}
