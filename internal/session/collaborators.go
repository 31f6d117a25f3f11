package session

import (
	"context"
	"time"

	"github.com/asheshgoplani/worktree-deck/internal/container"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
	"github.com/asheshgoplani/worktree-deck/internal/ptyproc"
)

// Process is a running command the manager can drive.
type Process interface {
	Write(data []byte) error
	Resize(cols, rows int) error
	Kill() error
	PID() int
}

// SpawnRequest describes one process launch.
type SpawnRequest struct {
	Name string
	Args []string
	Dir  string
	Env  []string
	Cols int
	Rows int

	// OnData and OnExit follow the ptyproc contract: chunks arrive in order
	// and OnExit is called once, after the last chunk.
	OnData func([]byte)
	OnExit func(ptyproc.ExitStatus)
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// PTYSpawner starts real processes attached to pseudo-terminals.
type PTYSpawner struct{}

func (PTYSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	p, err := ptyproc.Start(ctx, ptyproc.Options{
		Name:   req.Name,
		Args:   req.Args,
		Dir:    req.Dir,
		Env:    req.Env,
		Cols:   req.Cols,
		Rows:   req.Rows,
		OnData: req.OnData,
		OnExit: req.OnExit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ticker delivers poll ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock is the manager's source of time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// HookRunner is told about every state transition. Fire must not block.
type HookRunner interface {
	Fire(t hooks.Transition)
}

// BranchResolver supplies the branch checked out in a worktree.
type BranchResolver interface {
	CurrentBranch(path string) (string, error)
}

// ContainerRuntime starts containers and nests command lines in them.
type ContainerRuntime interface {
	Up(ctx context.Context, spec *container.Spec, dir string) error
	Wrap(spec *container.Spec, dir, name string, args []string) (string, []string)
}
