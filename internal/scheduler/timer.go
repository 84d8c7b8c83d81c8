package scheduler

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/dotpreview-project/dotpreview/internal/loop"
)

// timerSlot holds at most one armed timer. Expiry is delivered through the
// event loop and dropped when the slot was re-armed or disarmed in between,
// so a timer that already fired on its own goroutine cannot act late.
type timerSlot struct {
	clk   clock.WithDelayedExecution
	post  loop.Poster
	timer clock.Timer
	gen   uint64
}

func newTimerSlot(clk clock.WithDelayedExecution, post loop.Poster) timerSlot {
	return timerSlot{clk: clk, post: post}
}

// arm replaces any armed timer with one that calls fire after d.
func (t *timerSlot) arm(d time.Duration, fire func()) {
	t.disarm()
	gen := t.gen
	t.timer = t.clk.AfterFunc(d, func() {
		t.post.Post(func() {
			if t.timer == nil || t.gen != gen {
				return
			}
			t.timer = nil
			t.gen++
			fire()
		})
	})
}

func (t *timerSlot) disarm() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
}

func (t *timerSlot) armed() bool {
	return t.timer != nil
}
