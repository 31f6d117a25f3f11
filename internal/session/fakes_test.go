package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/worktree-deck/internal/container"
	"github.com/asheshgoplani/worktree-deck/internal/events"
	"github.com/asheshgoplani/worktree-deck/internal/hooks"
	"github.com/asheshgoplani/worktree-deck/internal/ptyproc"
)

// fakeProc stands in for a PTY process. Tests drive output and exits
// directly through the callbacks the manager registered.
type fakeProc struct {
	req SpawnRequest
	pid int

	mu     sync.Mutex
	writes []string
	sizes  [][2]int
	killed bool
	exited bool
}

func (p *fakeProc) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return ptyproc.ErrProcessDone
	}
	p.writes = append(p.writes, string(data))
	return nil
}

func (p *fakeProc) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return ptyproc.ErrProcessDone
	}
	p.sizes = append(p.sizes, [2]int{cols, rows})
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return ptyproc.ErrProcessDone
	}
	p.killed = true
	p.exited = true
	p.mu.Unlock()
	go p.req.OnExit(ptyproc.ExitStatus{Code: -1, Signal: "terminated"})
	return nil
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) emit(s string) {
	p.req.OnData([]byte(s))
}

func (p *fakeProc) exit(code int) {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	p.req.OnExit(ptyproc.ExitStatus{Code: code})
}

func (p *fakeProc) signal(sig string) {
	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()
	p.req.OnExit(ptyproc.ExitStatus{Code: -1, Signal: sig})
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProc) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakeProc) resizes() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.sizes...)
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProc
	fail  error
	delay time.Duration
}

func (f *fakeSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	f.mu.Lock()
	fail, delay := f.fail, f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fail != nil {
		return nil, fail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProc{req: req, pid: 1000 + len(f.procs)}
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeSpawner) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) proc(i int) *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

// fakeClock hands out tickers that only fire on Tick. Now advances by a
// millisecond per call so creation order is observable.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

func (t *fakeTicker) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

// Tick delivers one tick to every running ticker and returns once each poll
// loop has received it (or the ticker was stopped).
func (c *fakeClock) Tick() {
	c.mu.Lock()
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}

// Poll runs n ticks and one more so the last poll has finished when it
// returns. The extra poll sees the same screen and publishes nothing new.
func (c *fakeClock) Poll(n int) {
	for i := 0; i <= n; i++ {
		c.Tick()
	}
}

type fakeHooks struct {
	ch chan hooks.Transition
}

func newFakeHooks() *fakeHooks {
	return &fakeHooks{ch: make(chan hooks.Transition, 16)}
}

func (h *fakeHooks) Fire(t hooks.Transition) { h.ch <- t }

type fakeBranches struct{ branch string }

func (b fakeBranches) CurrentBranch(string) (string, error) { return b.branch, nil }

type fakeContainers struct {
	mu    sync.Mutex
	ups   []string
	upErr error
}

func (f *fakeContainers) Up(ctx context.Context, spec *container.Spec, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups = append(f.ups, dir)
	return f.upErr
}

func (f *fakeContainers) Wrap(spec *container.Spec, dir, name string, args []string) (string, []string) {
	return container.Runtime{}.Wrap(spec, dir, name, args)
}

type harness struct {
	m     *Manager
	sp    *fakeSpawner
	clock *fakeClock
	sub   *events.Subscription
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	bus := events.New()
	sub, err := bus.Subscribe()
	require.NoError(t, err)

	h := &harness{sp: &fakeSpawner{}, clock: newFakeClock(), sub: sub}
	o := Options{Bus: bus, Spawner: h.sp, Clock: h.clock, Shell: "/bin/sh"}
	for _, fn := range opts {
		fn(&o)
	}
	h.m = NewManager(o)
	t.Cleanup(func() {
		_ = h.m.Shutdown(context.Background())
		bus.Close()
	})
	return h
}

// next returns the next event or fails after a timeout.
func (h *harness) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-h.sub.C():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

// drain returns every event that arrives before the bus goes quiet.
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.sub.C():
			out = append(out, e)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func ofKind[T events.Event](evs []events.Event) []T {
	var out []T
	for _, e := range evs {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
