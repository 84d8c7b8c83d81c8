package scheduler_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/dotpreview-project/dotpreview/internal/loop"
	"github.com/dotpreview-project/dotpreview/internal/scheduler"
	"github.com/dotpreview-project/dotpreview/pkg/logging"
	"github.com/dotpreview-project/dotpreview/pkg/metrics"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type sent struct {
	at  time.Duration
	job scheduler.Job
}

// harness drives a session on a fake clock, draining the loop after every
// millisecond so that timer expiries run at their exact offsets.
type harness struct {
	t           *testing.T
	clk         *testingclock.FakeClock
	loop        *loop.Loop
	metrics     *metrics.Registry
	s           *scheduler.Session
	sent        []sent
	outstanding int
	maxOut      int
}

func newHarness(t *testing.T, cfg scheduler.Config) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     testingclock.NewFakeClock(epoch),
		loop:    loop.New(),
		metrics: metrics.NewRegistry(),
	}
	s, err := scheduler.NewSession("/docs/graph.dot", cfg, scheduler.RendererFunc(h.send), h.loop,
		scheduler.WithClock(h.clk),
		scheduler.WithMetrics(h.metrics),
		scheduler.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	h.s = s
	return h
}

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.LevelError)
	l.SetOutput(io.Discard)
	return l
}

func (h *harness) send(job scheduler.Job) {
	h.outstanding++
	if h.outstanding > h.maxOut {
		h.maxOut = h.outstanding
	}
	h.sent = append(h.sent, sent{at: h.now(), job: job})
}

func (h *harness) now() time.Duration {
	return h.clk.Since(epoch)
}

// at advances the clock to the given offset from epoch and returns how many
// loop callbacks ran on the way.
func (h *harness) at(offset time.Duration) int {
	ran := 0
	for h.now() < offset {
		h.clk.Step(time.Millisecond)
		ran += h.loop.RunPending()
	}
	return ran
}

// ack completes the i-th dispatched job and drains the loop.
func (h *harness) ack(i int, err error) {
	h.outstanding--
	h.sent[i].job.Done(err)
	h.loop.RunPending()
}

func (h *harness) sources() []string {
	out := make([]string, len(h.sent))
	for i, s := range h.sent {
		out[i] = s.job.Source
	}
	return out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
