// Package scheduler decides when an edited document is handed to a renderer.
//
// A Session coalesces bursts of render requests into a single pending source,
// applies the guard, debounce and render-interval policies, and gates every
// dispatch behind a RenderLock. Sessions are driven entirely from one event
// loop: every method must be called on the loop that was passed to NewSession,
// and the session posts its own timer expiries and completions back to it.
package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/dotpreview-project/dotpreview/internal/loop"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
)

// Job is one source handed to a renderer.
type Job struct {
	Identity string
	Ticket   string
	Source   string

	// Done reports completion. It may be called from any goroutine; only
	// the first call counts. err is informational.
	Done func(err error)
}

// Renderer receives dispatched jobs. Send must not block waiting for the
// render; there is no bound on when, or whether, Done is called.
type Renderer interface {
	Send(job Job)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(job Job)

// Send calls f(job).
func (f RendererFunc) Send(job Job) { f(job) }

// State is the externally visible phase of a session.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRendering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRendering:
		return "rendering"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(s *Session) { s.clk = c }
}

// WithLogger sets the base logger; the document identity is added as a field.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics records into m instead of the default registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Session) { s.metrics = m }
}

// Session schedules renders for one open document.
type Session struct {
	identity string
	cfg      Config
	clk      clock.WithDelayedExecution
	post     loop.Poster
	renderer Renderer
	log      *logging.Logger
	metrics  *metrics.Registry
	deferLog rate.Sometimes

	lastRequestAt time.Time
	lastRenderAt  time.Time

	pending    string
	hasPending bool
	timer      timerSlot
	lock       *RenderLock
	closed     bool
}

// NewSession creates an idle session for identity.
func NewSession(identity string, cfg Config, r Renderer, post loop.Poster, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		identity: identity,
		cfg:      cfg,
		clk:      clock.RealClock{},
		post:     post,
		renderer: r,
		deferLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Component("scheduler")
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}
	s.log = s.log.WithField("document", identity)

	now := s.clk.Now()
	s.lastRequestAt = now
	s.lastRenderAt = now
	s.timer = newTimerSlot(s.clk, post)
	s.lock = NewRenderLock(cfg, s.clk, post, s.onForcedRelease)

	if cfg.LockEnabled && cfg.LockSafetyTimeout == 0 {
		s.log.Warn("render lock has no safety timeout; a renderer that never acknowledges will stall this preview")
	}
	return s, nil
}

// Identity returns the document key the session was created for.
func (s *Session) Identity() string {
	return s.identity
}

// Config returns the session's timing policy.
func (s *Session) Config() Config {
	return s.cfg
}

// State derives the current phase from the lock and the pending slot.
func (s *Session) State() State {
	switch {
	case s.closed:
		return StateClosed
	case s.lock.Held():
		return StateRendering
	case s.timer.armed() || s.hasPending:
		return StateScheduled
	default:
		return StateIdle
	}
}

// Pending returns the source waiting for dispatch, if any.
func (s *Session) Pending() (string, bool) {
	return s.pending, s.hasPending
}

// InFlight returns the ticket of the render currently holding the lock.
func (s *Session) InFlight() (string, bool) {
	if t := s.lock.Current(); t != nil {
		return t.ID, true
	}
	return "", false
}

// LastRenderAt returns when the last source was dispatched.
func (s *Session) LastRenderAt() time.Time {
	return s.lastRenderAt
}

// RequestRender records source as the latest content and schedules its
// dispatch according to the guard, debounce and render-interval policies.
func (s *Session) RequestRender(source string) {
	if s.closed {
		return
	}

	now := s.clk.Now()
	sinceLastRequest := now.Sub(s.lastRequestAt)
	sinceLastRender := now.Sub(s.lastRenderAt)
	s.lastRequestAt = now

	s.store(source)
	s.metrics.RecordRequest()

	delay := s.cfg.Delay(sinceLastRequest, sinceLastRender)
	if delay <= 0 {
		// An armed timer means a guard or interval wait is already open;
		// the request joins it instead of overtaking it.
		if !s.timer.armed() {
			s.dispatch()
		}
		return
	}

	// Debounce must restart the clock; a pure interval wait keeps its deadline.
	if s.cfg.DebounceInterval > 0 || !s.timer.armed() {
		s.timer.arm(delay, s.dispatch)
	}
	s.log.Debug("render scheduled", map[string]any{"delay_ms": delay.Milliseconds()})
}

// SetPending stores source without scheduling it. It is flushed by the next
// dispatch, typically OnViewBecameVisible once a view has loaded.
func (s *Session) SetPending(source string) {
	if s.closed {
		return
	}
	s.store(source)
}

// OnRenderAcknowledged releases the lock held by the in-flight render and
// flushes anything that arrived meanwhile. err is only logged.
func (s *Session) OnRenderAcknowledged(err error) {
	if s.closed {
		return
	}
	if t := s.lock.Current(); t != nil {
		s.lock.ReleaseTicket(t)
		s.recordCompletion(t, err)
	} else if err != nil {
		s.log.WarnErr("render failed", err)
	}
	s.dispatch()
}

// OnViewBecameVisible flushes a pending source that was held back while the
// view could not be observed.
func (s *Session) OnViewBecameVisible() {
	if s.closed {
		return
	}
	s.dispatch()
}

// Close cancels both timers and drops the pending source. Every later timer
// expiry, completion or method call is ignored.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.timer.disarm()
	s.lock.Release()
	s.pending, s.hasPending = "", false
	s.log.Debug("session closed")
}

func (s *Session) store(source string) {
	if s.hasPending {
		s.metrics.RecordSuperseded()
	}
	s.pending, s.hasPending = source, true
}

// dispatch sends the pending source if the lock allows it. When the lock is
// held the source stays pending; the release path calls dispatch again.
func (s *Session) dispatch() {
	if s.closed {
		return
	}
	s.timer.disarm()
	if !s.hasPending {
		return
	}

	ticket, ok := s.lock.TryAcquire()
	if !ok {
		s.metrics.RecordDeferred()
		s.deferLog.Do(func() {
			s.log.Debug("render in flight, holding latest source")
		})
		return
	}

	source := s.pending
	s.pending, s.hasPending = "", false
	s.lastRenderAt = s.clk.Now()
	s.metrics.RecordDispatch()
	s.log.Debug("render dispatched", map[string]any{"ticket": ticket.ID, "bytes": len(source)})

	s.renderer.Send(Job{
		Identity: s.identity,
		Ticket:   ticket.ID,
		Source:   source,
		Done:     s.completion(ticket),
	})
}

func (s *Session) completion(t *Ticket) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			s.post.Post(func() { s.complete(t, err) })
		})
	}
}

func (s *Session) complete(t *Ticket, err error) {
	if s.closed {
		return
	}
	if !s.lock.ReleaseTicket(t) {
		s.metrics.RecordCompletion(metrics.OutcomeStale, 0)
		s.log.Debug("ignoring completion of a released render", map[string]any{"ticket": t.ID})
		return
	}
	s.recordCompletion(t, err)
	s.dispatch()
}

func (s *Session) recordCompletion(t *Ticket, err error) {
	elapsed := s.clk.Since(t.IssuedAt)
	if err != nil {
		s.metrics.RecordCompletion(metrics.OutcomeError, elapsed)
		s.log.WarnErr("render failed", err, map[string]any{"ticket": t.ID})
		return
	}
	s.metrics.RecordCompletion(metrics.OutcomeOK, elapsed)
}

func (s *Session) onForcedRelease(t *Ticket) {
	if s.closed {
		return
	}
	s.metrics.RecordCompletion(metrics.OutcomeForced, 0)
	s.log.Warn("renderer did not acknowledge in time, releasing render lock", map[string]any{
		"ticket":     t.ID,
		"timeout_ms": s.cfg.LockSafetyTimeout.Milliseconds(),
	})
	s.dispatch()
}
