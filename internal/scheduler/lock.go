package scheduler

import (
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/dotpreview-project/dotpreview/internal/loop"
)

// Ticket identifies one dispatched render. A ticket settles exactly once,
// by acknowledgement, by safety-timer expiry or by session close; whichever
// comes first wins and the others become no-ops.
type Ticket struct {
	ID       string
	IssuedAt time.Time

	settled bool
}

// Settled reports whether the render behind this ticket has been accounted for.
func (t *Ticket) Settled() bool {
	return t.settled
}

// RenderLock keeps at most one render in flight per session and bounds the
// wait for a renderer that never reports back.
//
// RenderLock is not safe for concurrent use; it belongs to the event loop.
type RenderLock struct {
	exclusive bool
	timeout   time.Duration
	clk       clock.PassiveClock

	held    bool
	current *Ticket
	safety  timerSlot
	onForce func(*Ticket)
}

// NewRenderLock creates an idle lock. onForce, if set, runs on the loop after
// the safety timer released the lock.
func NewRenderLock(cfg Config, clk clock.WithDelayedExecution, post loop.Poster, onForce func(*Ticket)) *RenderLock {
	l := &RenderLock{
		exclusive: cfg.LockEnabled,
		clk:       clk,
		safety:    newTimerSlot(clk, post),
		onForce:   onForce,
	}
	if cfg.safetyTimerArmed() {
		l.timeout = cfg.LockSafetyTimeout
	}
	return l
}

// TryAcquire issues a ticket for a new render. It fails only when the lock
// is exclusive and already held. Without exclusivity the new render simply
// supersedes the tracked one.
func (l *RenderLock) TryAcquire() (*Ticket, bool) {
	if l.held {
		if l.exclusive {
			return nil, false
		}
		l.settle()
	}

	t := &Ticket{ID: uuid.NewString(), IssuedAt: l.clk.Now()}
	l.held = true
	l.current = t
	if l.timeout > 0 {
		l.safety.arm(l.timeout, l.ForceRelease)
	}
	return t, true
}

// Release frees the lock for whatever render holds it. It reports whether
// the lock was held.
func (l *RenderLock) Release() bool {
	if !l.held {
		return false
	}
	l.settle()
	return true
}

// ReleaseTicket frees the lock only if t is the render currently holding it.
func (l *RenderLock) ReleaseTicket(t *Ticket) bool {
	if t == nil || t.settled || t != l.current {
		return false
	}
	l.settle()
	return true
}

// ForceRelease has the same effect as Release. It is driven by the safety
// timer so that a lost renderer cannot starve the session.
func (l *RenderLock) ForceRelease() {
	if !l.held {
		return
	}
	t := l.current
	l.settle()
	if l.onForce != nil {
		l.onForce(t)
	}
}

// Held reports whether a render is in flight.
func (l *RenderLock) Held() bool {
	return l.held
}

// Current returns the ticket of the in-flight render, or nil.
func (l *RenderLock) Current() *Ticket {
	return l.current
}

// SafetyArmed reports whether the safety timer is running.
func (l *RenderLock) SafetyArmed() bool {
	return l.safety.armed()
}

func (l *RenderLock) settle() {
	l.safety.disarm()
	if l.current != nil {
		l.current.settled = true
	}
	l.current = nil
	l.held = false
}
