package loop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotpreview-project/dotpreview/internal/loop"
)

func TestLoop_RunPending_FIFO(t *testing.T) {
	l := loop.New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}

	assert.Equal(t, 5, l.RunPending())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, l.Len())
}

func TestLoop_RunPending_DrainsNestedPosts(t *testing.T) {
	l := loop.New()
	var got []string
	l.Post(func() {
		got = append(got, "outer")
		l.Post(func() { got = append(got, "inner") })
	})

	assert.Equal(t, 2, l.RunPending())
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestLoop_Stop_RejectsPosts(t *testing.T) {
	l := loop.New()
	ran := false
	l.Post(func() { ran = true })
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.Equal(t, 0, l.RunPending())
	assert.False(t, ran, "queued work is discarded on stop")
}

func TestLoop_Run_SerialisesConcurrentPosts(t *testing.T) {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- l.Run(ctx) }()

	// counter is only touched on the loop goroutine, so no mutex is needed
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Call(ctx, func() { counter++ }))
		}()
	}
	wg.Wait()

	var final int
	require.NoError(t, l.Call(ctx, func() { final = counter }))
	assert.Equal(t, 50, final)

	cancel()
	select {
	case err := <-runDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoop_Call_AfterStop(t *testing.T) {
	l := loop.New()
	l.Stop()
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), loop.ErrStopped)
}

func TestLoop_Run_ReturnsOnStop(t *testing.T) {
	l := loop.New()
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	l.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestLoop_Call_ReturnsWhenStoppedWhileQueued(t *testing.T) {
	l := loop.New()
	ran := false
	errc := make(chan error, 1)
	go func() { errc <- l.Call(context.Background(), func() { ran = true }) }()

	require.Eventually(t, func() bool { return l.Len() == 1 }, time.Second, time.Millisecond)
	l.Stop()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, loop.ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Call blocked after Stop")
	}
	assert.False(t, ran)
	l.Stop()
}
