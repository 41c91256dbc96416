package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinCapacity(t *testing.T) {
	l := NewLimiter("vndirect", 3, time.Second)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.True(t, l.Acquire(10*time.Millisecond))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond, "admissions within capacity should not block")
}

func TestAcquireTimesOutWhenWindowFull(t *testing.T) {
	l := NewLimiter("vndirect", 2, time.Second)

	require.True(t, l.Acquire(0))
	require.True(t, l.Acquire(0))

	// Third call cannot be admitted before the 1s window clears.
	start := time.Now()
	admitted := l.Acquire(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, admitted)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestAcquireBlocksUntilWindowClears(t *testing.T) {
	l := NewLimiter("ssi", 1, 100*time.Millisecond)

	require.True(t, l.Acquire(0))

	start := time.Now()
	require.True(t, l.Acquire(time.Second))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestAcquireContextCancel(t *testing.T) {
	l := NewLimiter("ssi", 1, time.Minute)
	require.NoError(t, l.AcquireContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.AcquireContext(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("AcquireContext did not return after cancel")
	}
}

// Hammer the limiter from many goroutines and verify that no sliding
// window of length W ever contains more than N admissions.
func TestConcurrentAcquireRespectsWindow(t *testing.T) {
	const (
		maxCalls = 5
		window   = 200 * time.Millisecond
		workers  = 20
		perG     = 3
	)

	l := NewLimiter("vndirect", maxCalls, window)

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				if l.Acquire(5 * time.Second) {
					now := time.Now()
					mu.Lock()
					admitted = append(admitted, now)
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Len(t, admitted, workers*perG)

	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })
	for i := range admitted {
		count := 1
		for j := i + 1; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < window {
				count++
			}
		}
		// Recording the admission time happens slightly after the
		// admission decision, so allow one extra at the boundary.
		assert.LessOrEqual(t, count, maxCalls+1,
			"window starting at index %d holds %d admissions", i, count)
	}
}

func TestGetStats(t *testing.T) {
	l := NewLimiter("vndirect", 4, time.Minute)

	require.True(t, l.Acquire(0))
	require.True(t, l.Acquire(0))

	stats := l.GetStats()
	assert.Equal(t, "vndirect", stats.Provider)
	assert.Equal(t, 2, stats.CurrentCalls)
	assert.Equal(t, 2, stats.AvailableCalls)
	assert.InDelta(t, 2.0, stats.CallsPerMinute, 0.001)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("vndirect", 10, time.Minute)
	r.Register("ssi", 5, time.Minute)

	assert.NotNil(t, r.Get("vndirect"))
	assert.NotNil(t, r.Get("ssi"))
	assert.Nil(t, r.Get("tcbs"))
	assert.Len(t, r.AllStats(), 2)
}
