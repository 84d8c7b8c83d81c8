// Package loop provides the serial executor that owns all preview session state.
//
// Every input that mutates a session (watcher events, view messages, renderer
// completions, timer expiries) is posted to a Loop and runs to completion on
// the loop's goroutine, one function at a time, in posting order.
package loop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Call once the loop has been stopped.
var ErrStopped = errors.New("event loop stopped")

// Poster accepts work for serial execution.
type Poster interface {
	// Post queues fn and reports whether it was accepted.
	Post(fn func()) bool
}

// Loop is a FIFO of functions drained by a single goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates an idle loop. Nothing runs until Run or RunPending is called.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

// Post queues fn. It never blocks and is safe to call from any goroutine,
// including from inside a queued function.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	// coalesced wake-up
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits until it has run, ctx is done or the loop stops.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have run just before the queue was discarded
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run drains the queue until ctx is cancelled or Stop is called.
// Run must not be used together with RunPending.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		if l.isStopped() {
			return nil
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// RunPending runs queued functions on the calling goroutine until the queue
// is empty, including functions queued while draining. It returns how many ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return n
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		n++
	}
}

// Len returns the number of queued functions.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Stop rejects further posts and discards anything still queued. Pending
// Calls return ErrStopped.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.stopped {
		l.stopped = true
		close(l.done)
	}
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
