package scheduler

import (
	"time"

	"github.com/dotpreview-project/dotpreview/pkg/errclass"
)

// Config is the timing policy of one session. It is copied at construction
// and never changes for the session's lifetime.
type Config struct {
	// GuardInterval delays a request that opens a new burst, so that a
	// change and a save for the same edit collapse into one render.
	GuardInterval time.Duration

	// DebounceInterval is restarted by every request.
	DebounceInterval time.Duration

	// RenderInterval is the minimum spacing between two dispatches.
	RenderInterval time.Duration

	// LockEnabled allows at most one unacknowledged render.
	LockEnabled bool

	// LockSafetyTimeout force-releases the lock when the renderer never
	// acknowledges. Zero disables the safety timer.
	LockSafetyTimeout time.Duration
}

// Validate rejects negative durations.
func (c Config) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"guard interval", c.GuardInterval},
		{"debounce interval", c.DebounceInterval},
		{"render interval", c.RenderInterval},
		{"lock safety timeout", c.LockSafetyTimeout},
	}
	for _, chk := range checks {
		if chk.d < 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s must not be negative (got %s)", chk.name, chk.d)
		}
	}
	return nil
}

// Delay returns how long a request must wait before it may be dispatched,
// given the time since the previous request and since the last dispatch.
// A result <= 0 means the request may go out immediately.
func (c Config) Delay(sinceLastRequest, sinceLastRender time.Duration) time.Duration {
	var guard time.Duration
	if sinceLastRequest > c.GuardInterval {
		guard = c.GuardInterval
	}
	floor := c.RenderInterval - sinceLastRender
	return max(guard, c.DebounceInterval, floor)
}

// safetyTimerArmed reports whether acquiring the lock arms a safety timer.
func (c Config) safetyTimerArmed() bool {
	return c.LockEnabled && c.LockSafetyTimeout > 0
}
