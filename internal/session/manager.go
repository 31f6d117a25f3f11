package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/worktree-deck/internal/container"
	"github.com/asheshgoplani/worktree-deck/internal/detect"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/history"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
	"github.com/asheshgoplani/worktree-deck/internal/logging"
	"github.com/asheshgoplani/worktree-deck/internal/ptyproc"
	"github.com/asheshgoplani/worktree-deck/internal/vterm"
)

var sessionLog = logging.ForComponent(logging.CompSession)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultScreenLines  = 30
	DefaultCols         = 80
	DefaultRows         = 24
)

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Bus          *events.Bus
	Spawner      Spawner
	Clock        Clock
	PollInterval time.Duration
	HistoryLimit int
	ScreenLines  int
	Cols, Rows   int
	Shell        string

	Hooks      HookRunner
	Branches   BranchResolver
	Containers ContainerRuntime

	// Patterns returns detection pattern overrides for a strategy.
	Patterns func(detect.StrategyID) *detect.Patterns
}

// Manager is the registry of live sessions, one per worktree path.
type Manager struct {
	bus          *events.Bus
	spawner      Spawner
	clock        Clock
	pollInterval time.Duration
	historyLimit int
	screenLines  int
	shell        string
	hooks        HookRunner
	branches     BranchResolver
	containers   ContainerRuntime
	patterns     func(detect.StrategyID) *detect.Patterns

	// ctx outlives individual calls; fallback and companion spawns use it.
	ctx    context.Context
	cancel context.CancelFunc

	creating singleflight.Group
	hookWG   sync.WaitGroup

	mu         sync.RWMutex
	sessions   map[string]*Session
	cols, rows int
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Bus == nil {
		opts.Bus = events.New()
	}
	if opts.Spawner == nil {
		opts.Spawner = PTYSpawner{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = history.DefaultLimit
	}
	if opts.ScreenLines <= 0 {
		opts.ScreenLines = DefaultScreenLines
	}
	if opts.Cols <= 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows <= 0 {
		opts.Rows = DefaultRows
	}
	if opts.Shell == "" {
		opts.Shell = defaultShell()
	}
	if opts.Containers == nil {
		opts.Containers = container.Runtime{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		bus:          opts.Bus,
		spawner:      opts.Spawner,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		historyLimit: opts.HistoryLimit,
		screenLines:  opts.ScreenLines,
		shell:        opts.Shell,
		hooks:        opts.Hooks,
		branches:     opts.Branches,
		containers:   opts.Containers,
		patterns:     opts.Patterns,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
		cols:         opts.Cols,
		rows:         opts.Rows,
	}
}

// Bus returns the event bus sessions publish on.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// GetSession returns the live session for path.
func (m *Manager) GetSession(path string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[path]
	return s, ok
}

// GetAllSessions returns every live session, oldest first.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].createdAt.Equal(list[j].createdAt) {
			return list[i].worktreePath < list[j].worktreePath
		}
		return list[i].createdAt.Before(list[j].createdAt)
	})
	return list
}

// GetOrCreate returns the session for path, creating it with spec and
// strategyID if none exists. An existing session is returned as is, whatever
// spec it was created with. Concurrent calls for one path spawn once.
func (m *Manager) GetOrCreate(ctx context.Context, path string, spec CommandSpec, strategyID detect.StrategyID) (*Session, error) {
	if s, ok := m.GetSession(path); ok {
		return s, nil
	}
	v, err, _ := m.creating.Do(path, func() (any, error) {
		if s, ok := m.GetSession(path); ok {
			return s, nil
		}
		return m.create(ctx, path, spec, strategyID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) create(ctx context.Context, path string, spec CommandSpec, strategyID detect.StrategyID) (*Session, error) {
	if spec.Command == "" {
		return nil, &ConfigError{Field: "command", Err: ErrEmptyCommand}
	}
	var overrides *detect.Patterns
	if m.patterns != nil {
		overrides = m.patterns(strategyID)
	}
	strategy, err := detect.New(strategyID, overrides)
	if err != nil {
		return nil, &ConfigError{Field: "detection strategy", Value: string(strategyID), Err: err}
	}

	if spec.Container.Enabled() {
		if err := m.containers.Up(ctx, spec.Container, path); err != nil {
			return nil, &ProcessError{Op: "container up", Path: path, Err: err}
		}
	}

	m.mu.RLock()
	cols, rows := m.cols, m.rows
	m.mu.RUnlock()

	now := m.clock.Now()
	s := &Session{
		id:               uuid.NewString(),
		worktreePath:     path,
		spec:             spec,
		strategyID:       strategyID,
		strategy:         strategy,
		createdAt:        now,
		state:            detect.StateBusy,
		activeMode:       events.ModePrimary,
		isPrimaryCommand: true,
		lastActivity:     now,
		cols:             cols,
		rows:             rows,
		ready:            make(chan struct{}),
		stopPoll:         make(chan struct{}),
	}
	s.primary = slot{emu: vterm.New(cols, rows), hist: history.New(m.historyLimit)}
	s.secondary = slot{emu: vterm.New(cols, rows), hist: history.New(m.historyLimit)}

	s.mu.Lock()
	gen := s.bumpGen()
	s.primary.gen = gen
	s.mu.Unlock()

	name, args := m.containers.Wrap(spec.Container, path, spec.Command, spec.Args)
	proc, err := m.spawn(ctx, s, events.ModePrimary, gen, name, args)
	if err != nil {
		return nil, &ProcessError{Op: "spawn", Path: path, Err: err}
	}

	s.mu.Lock()
	s.primary.proc = proc
	s.primary.command, s.primary.args = spec.Command, spec.Args
	s.mu.Unlock()

	if spec.Companion {
		if err := m.startCompanion(ctx, s); err != nil {
			sessionLog.Warn("companion_spawn_failed",
				slog.String("worktree", path),
				slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	m.mu.Lock()
	m.sessions[path] = s
	m.mu.Unlock()
	m.bus.Publish(events.NewSessionCreated(s.ref(), spec.Command, spec.Args, strategyID))
	m.startPolling(s)
	s.mu.Unlock()
	close(s.ready)

	sessionLog.Info("session_created",
		slog.String("id", s.id),
		slog.String("worktree", path),
		slog.String("command", spec.Command),
		slog.String("strategy", string(strategyID)),
		slog.Int("pid", proc.PID()))
	return s, nil
}

// spawn launches one side of s. Callbacks are bound to gen.
func (m *Manager) spawn(ctx context.Context, s *Session, mode events.Mode, gen uint64, name string, args []string) (Process, error) {
	s.mu.Lock()
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	env := append(s.spec.envList(), hooks.EnvSessionID+"="+s.id, hooks.EnvWorktreePath+"="+s.worktreePath)
	return m.spawner.Spawn(ctx, SpawnRequest{
		Name: name,
		Args: args,
		Dir:  s.worktreePath,
		Env:  env,
		Cols: cols,
		Rows: rows,
		OnData: func(chunk []byte) {
			m.handleOutput(s, mode, gen, chunk)
		},
		OnExit: func(status ptyproc.ExitStatus) {
			if mode == events.ModePrimary {
				m.handlePrimaryExit(s, gen, status)
			} else {
				m.handleSecondaryExit(s, gen, status)
			}
		},
	})
}

// startCompanion (re)spawns the secondary shell with a fresh screen and
// history.
func (m *Manager) startCompanion(ctx context.Context, s *Session) error {
	shell := s.spec.Shell
	if shell == "" {
		shell = m.shell
	}

	s.mu.Lock()
	gen := s.bumpGen()
	s.secondary.gen = gen
	s.secondary.proc = nil
	s.secondary.emu = vterm.New(s.cols, s.rows)
	s.secondary.hist.Reset()
	s.mu.Unlock()

	name, args := m.containers.Wrap(s.spec.Container, s.worktreePath, shell, nil)
	proc, err := m.spawn(ctx, s, events.ModeSecondary, gen, name, args)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.secondary.gen != gen {
		_ = proc.Kill()
		return errors.New("session changed while companion was starting")
	}
	s.secondary.proc = proc
	s.secondary.command = shell
	return nil
}

// Terminate destroys the session at path. The poll task has stopped when it
// returns.
func (m *Manager) Terminate(path string) error {
	return m.terminate(path, events.ExitTerminated)
}

func (m *Manager) terminate(path string, reason events.ExitReason) error {
	m.mu.Lock()
	s, ok := m.sessions[path]
	if ok {
		delete(m.sessions, path)
	}
	m.mu.Unlock()
	if !ok {
		return notFound("terminate", path)
	}

	s.mu.Lock()
	m.destroyLocked(s, events.ExitInfo{Reason: reason, Code: -1})
	s.mu.Unlock()
	s.stopPolling()

	sessionLog.Info("session_terminated",
		slog.String("id", s.id),
		slog.String("worktree", path),
		slog.String("reason", string(reason)))
	return nil
}

// destroyLocked marks s closed, kills its processes and announces the exit.
// It requires s.mu and reports false when s was already destroyed. Callers
// stop polling after releasing the lock.
func (m *Manager) destroyLocked(s *Session, status events.ExitInfo) bool {
	if s.closed {
		return false
	}
	s.closed = true

	for _, sl := range []*slot{&s.primary, &s.secondary} {
		if sl.proc == nil {
			continue
		}
		if err := sl.proc.Kill(); err != nil {
			sessionLog.Debug("kill_failed",
				slog.String("worktree", s.worktreePath),
				slog.Int("pid", sl.proc.PID()),
				slog.String("error", err.Error()))
		}
		sl.proc = nil
	}

	m.bus.Publish(events.NewSessionExit(s.ref(), status))
	m.bus.Publish(events.NewSessionDestroyed(s.ref()))
	return true
}

// unregister removes s from the registry unless another session already
// took its path.
func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.worktreePath]; ok && cur == s {
		delete(m.sessions, s.worktreePath)
	}
	m.mu.Unlock()
}

// lookup returns the live session for path or a not-found ProcessError.
func (m *Manager) lookup(op, path string) (*Session, error) {
	s, ok := m.GetSession(path)
	if !ok {
		return nil, notFound(op, path)
	}
	return s, nil
}

// SetAttached marks whether a viewer is showing the session. Attaching
// publishes one SessionRestore with the active mode's history before any
// further live output.
func (m *Manager) SetAttached(path string, attached bool) error {
	s, err := m.lookup("attach", path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return notFound("attach", path)
	}
	if s.attached == attached {
		return nil
	}
	s.attached = attached
	if attached {
		m.publishRestoreLocked(s, s.activeMode)
	}
	return nil
}

// publishRestoreLocked requires s.mu.
func (m *Manager) publishRestoreLocked(s *Session, mode events.Mode) {
	sl := s.slotFor(mode)
	if sl.hist.Len() == 0 {
		return
	}
	m.bus.Publish(events.NewSessionRestore(s.ref(), mode, sl.hist.Snapshot()))
}

// ToggleMode switches between the assistant and the companion shell,
// starting the shell if it is not running. The inactive side keeps running.
func (m *Manager) ToggleMode(path string) (events.Mode, error) {
	s, err := m.lookup("toggle", path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", notFound("toggle", path)
	}
	target := s.activeMode.Other()
	needShell := target == events.ModeSecondary && s.secondary.proc == nil
	s.mu.Unlock()

	if needShell {
		if err := m.startCompanion(m.ctx, s); err != nil {
			return "", &ProcessError{Op: "start shell", Path: path, Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", notFound("toggle", path)
	}
	if target == events.ModeSecondary && s.secondary.proc == nil {
		return "", &ProcessError{Op: "start shell", Path: path, Err: ErrProcessNotRunning}
	}
	s.activeMode = target
	if s.attached {
		m.publishRestoreLocked(s, target)
	}
	return target, nil
}

// Write sends input to the active mode's process.
func (m *Manager) Write(path string, data []byte) error {
	s, err := m.lookup("write", path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	proc := s.slotFor(s.activeMode).proc
	s.mu.Unlock()
	if proc == nil {
		return &ProcessError{Op: "write", Path: path, Err: ErrProcessNotRunning}
	}
	if err := proc.Write(data); err != nil {
		return &ProcessError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// Resize applies the host terminal size to both sides of the session.
// Failures from a process that already exited are logged and ignored.
func (m *Manager) Resize(path string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	s, err := m.lookup("resize", path)
	if err != nil {
		return err
	}
	m.resizeSession(s, cols, rows)
	return nil
}

func (m *Manager) resizeSession(s *Session, cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.primary.emu.Resize(cols, rows)
	s.secondary.emu.Resize(cols, rows)
	procs := []Process{s.primary.proc, s.secondary.proc}
	s.mu.Unlock()

	for _, p := range procs {
		if p == nil {
			continue
		}
		if err := p.Resize(cols, rows); err != nil {
			sessionLog.Debug("resize_failed",
				slog.String("worktree", s.worktreePath),
				slog.Int("pid", p.PID()),
				slog.String("error", err.Error()))
		}
	}
}

// ResizeAll applies the host terminal size to every session and to sessions
// created later.
func (m *Manager) ResizeAll(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	m.mu.Lock()
	m.cols, m.rows = cols, rows
	m.mu.Unlock()

	for _, s := range m.GetAllSessions() {
		m.resizeSession(s, cols, rows)
	}
}

// Shutdown terminates every session concurrently and waits for running
// hooks to be handed off.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	paths := make([]string, 0, len(m.sessions))
	for p := range m.sessions {
		paths = append(paths, p)
	}
	m.mu.RUnlock()

	var g errgroup.Group
	for _, p := range paths {
		g.Go(func() error {
			err := m.terminate(p, events.ExitShutdown)
			if errors.Is(err, ErrSessionNotFound) {
				return nil
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		m.cancel()
		m.hookWG.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
