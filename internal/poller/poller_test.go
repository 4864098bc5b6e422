package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTicksNeverOverlap(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		ticks   int
	)
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		ticks++
		mu.Unlock()

		time.Sleep(10 * time.Millisecond) // slower than the interval

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	p.Start()
	time.Sleep(80 * time.Millisecond)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxSeen, "ticks must run strictly sequentially")
	require.GreaterOrEqual(t, ticks, 2)
}

func TestStopCancelsInFlightTick(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	var applied atomic.Int32

	p := New("test", time.Millisecond, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		// A real tick checks its context before applying results.
		if ctx.Err() == nil {
			applied.Add(1)
		}
		return ctx.Err()
	})

	p.Start()
	<-started
	p.Stop()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight tick never saw cancellation")
	}
	require.Equal(t, int32(0), applied.Load(), "canceled tick must not apply results")
	require.False(t, p.Running())
}

func TestStopIsIdempotentAndStartRestarts(t *testing.T) {
	var ticks atomic.Int32
	p := New("test", 5*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})

	p.Stop() // stopping a never-started poller is fine
	p.Start()
	p.Start() // no-op while running
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Stop()

	count := ticks.Load()
	require.Greater(t, count, int32(0))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, count, ticks.Load(), "no ticks after Stop")
}

func TestTickErrorsDoNotStopLoop(t *testing.T) {
	var ticks atomic.Int32
	p := New("test", 2*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("boom")
	})
	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	require.Greater(t, ticks.Load(), int32(2))
}

func TestIndependentPollers(t *testing.T) {
	var fast, slow atomic.Int32
	pFast := New("fast", 2*time.Millisecond, func(ctx context.Context) error {
		fast.Add(1)
		return nil
	})
	pSlow := New("slow", 20*time.Millisecond, func(ctx context.Context) error {
		slow.Add(1)
		return nil
	})

	pFast.Start()
	pSlow.Start()
	time.Sleep(50 * time.Millisecond)
	pFast.Stop()

	// The slow poller keeps running after the fast one stops.
	require.True(t, pSlow.Running())
	before := slow.Load()
	time.Sleep(50 * time.Millisecond)
	pSlow.Stop()
	require.Greater(t, slow.Load(), before)
	require.Greater(t, fast.Load(), slow.Load())
}
