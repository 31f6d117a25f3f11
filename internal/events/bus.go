package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/asheshgoplani/worktree-deck/internal/logging"
)

var busLog = logging.ForComponent(logging.CompEvents)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Bus fans events out to subscribers. Every subscription owns an unbounded
// FIFO queue and a delivery goroutine, so Publish never blocks, never drops,
// and each subscriber sees events in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription receives events from a Bus until closed.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter func(Event) bool

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Publish enqueues e for every matching subscriber. Publishing on a closed
// bus is a no-op.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		busLog.Debug("publish_after_close", slog.String("kind", string(e.Kind())))
		return
	}
	for _, sub := range b.subs {
		if sub.filter == nil || sub.filter(e) {
			sub.enqueue(e)
		}
	}
}

// Subscribe returns a subscription receiving every event.
func (b *Bus) Subscribe() (*Subscription, error) {
	return b.subscribe(nil)
}

// SubscribeSession returns a subscription receiving only events for the
// session at worktreePath.
func (b *Bus) SubscribeSession(worktreePath string) (*Subscription, error) {
	return b.subscribe(func(e Event) bool {
		return e.Ref().WorktreePath == worktreePath
	})
}

// SubscribeFunc calls fn for every event on the subscription's own goroutine.
// A panicking handler is logged and the next event is still delivered.
func (b *Bus) SubscribeFunc(fn func(Event)) (*Subscription, error) {
	sub, err := b.subscribe(nil)
	if err != nil {
		return nil, err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range sub.C() {
			dispatch(fn, e)
		}
	}()
	return sub, nil
}

func dispatch(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			busLog.Error("subscriber_panic",
				slog.String("kind", string(e.Kind())),
				slog.String("worktree", e.Ref().WorktreePath),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn(e)
}

func (b *Bus) subscribe(filter func(Event) bool) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := &Subscription{
		bus:    b,
		id:     b.nextID,
		filter: filter,
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.pump()
	}()
	return sub, nil
}

// Close stops every subscription and waits for delivery goroutines and
// SubscribeFunc handlers to exit. Events still queued are discarded.
//
// Close waits on the handler that calls it, so a handler must not call Close
// directly. Handlers call Subscription.Close or run Close on a new goroutine.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
}

// C returns the delivery channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close unsubscribes. Safe to call more than once and from a handler.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	s.stop()
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) stop() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
