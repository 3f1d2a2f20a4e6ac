// Package eventloop gives every coordinator component the single
// logical thread the design calls for (spec.md §5): timers, peer
// callbacks, and player events are all delivered as closures posted to
// one channel and drained by one goroutine, so two operations triggered
// by the same inbound message run in textual order and nothing needs a
// lock to protect the invariants that matter ("one scheduled-command
// timer at a time", etc). It plays the same role the teacher's
// `websocket.Hub.Run` select loop plays for its register/unregister/
// broadcast channels, generalized to arbitrary posted work.
package eventloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a single-goroutine task queue.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
}

// New creates a Loop with a generously buffered task queue. Callers
// outside the loop goroutine use Post; nothing blocks indefinitely
// because the buffer only needs to absorb bursts between drains.
func New() *Loop {
	return &Loop{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
}

// Run drains posted tasks until Stop is called. Meant to be run in its
// own goroutine for the lifetime of the coordinator.
func (l *Loop) Run() {
	for {
		select {
		case f := <-l.tasks:
			f()
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case f := <-l.tasks:
			f()
		default:
			return
		}
	}
}

// Post enqueues f to run on the loop goroutine. Safe to call from any
// goroutine, including from within a task already running on the loop.
func (l *Loop) Post(f func()) {
	if l.closed.Load() {
		return
	}
	select {
	case l.tasks <- f:
	case <-l.done:
	}
}

// Stop ends Run after the currently-queued tasks (at the time of the
// call) have drained.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
}

// Timer is a cancellable, single-shot timer whose firing is posted back
// onto the owning Loop rather than delivered on its own goroutine.
type Timer struct {
	t         *time.Timer
	cancelled atomic.Bool
}

// AfterFunc arms a timer that calls f on the Loop after d elapses. The
// returned Timer's Stop cancels it; firing after Stop is a no-op.
func (l *Loop) AfterFunc(d time.Duration, f func()) *Timer {
	timer := &Timer{}
	timer.t = time.AfterFunc(d, func() {
		if timer.cancelled.Load() {
			return
		}
		l.Post(func() {
			if timer.cancelled.Load() {
				return
			}
			f()
		})
	})
	return timer
}

// Stop cancels the timer. Safe to call multiple times and on a nil
// Timer (a no-op), so callers can unconditionally clear a
// possibly-unarmed field.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.t.Stop()
}
