package stick_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solid-engine/solid/internal/stick"
)

// tickRecorder counts invocations and serves a controllable deadline.
type tickRecorder struct {
	mu       sync.Mutex
	calls    int
	deadline time.Time
	set      bool

	called chan struct{}
}

func newTickRecorder() *tickRecorder {
	return &tickRecorder{called: make(chan struct{}, 16)}
}

func (r *tickRecorder) tick() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	select {
	case r.called <- struct{}{}:
	default:
	}
	return r.deadline, r.set
}

func (r *tickRecorder) setDeadline(d time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadline, r.set = d, true
}

func (r *tickRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *tickRecorder) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-r.called:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tick")
	}
}

func TestTicker_SleepsWithoutDeadline(t *testing.T) {
	t.Parallel()

	rec := newTickRecorder()
	ticker := stick.NewTicker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker.Run(ctx, rec.tick)
	}()

	// One initial invocation, then the loop parks on the wake channel.
	rec.waitCall(t)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.callCount())

	cancel()
	<-done
}

func TestTicker_WakeReinvokes(t *testing.T) {
	t.Parallel()

	rec := newTickRecorder()
	ticker := stick.NewTicker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker.Run(ctx, rec.tick)
	}()

	rec.waitCall(t)
	ticker.Wake()
	rec.waitCall(t)

	cancel()
	<-done
}

func TestTicker_FiresAtDeadline(t *testing.T) {
	t.Parallel()

	rec := newTickRecorder()
	rec.setDeadline(time.Now().Add(30 * time.Millisecond))
	ticker := stick.NewTicker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker.Run(ctx, rec.tick)
	}()

	// First call reads the deadline, second fires once it passes.
	rec.waitCall(t)
	start := time.Now()
	rec.waitCall(t)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	cancel()
	<-done
}

func TestTicker_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	rec := newTickRecorder()
	ticker := stick.NewTicker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker.Run(ctx, rec.tick)
	}()

	rec.waitCall(t)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop on cancel")
	}
}
