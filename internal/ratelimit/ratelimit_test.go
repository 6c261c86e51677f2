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

func TestGate_SpacesConsecutiveRequests(t *testing.T) {
	delay := 40 * time.Millisecond
	g := NewGate(delay, delay)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Wait(ctx))
	}

	// first slot is free, the next two each wait one delay
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-5*time.Millisecond)
}

func TestGate_SharedAcrossGoroutines(t *testing.T) {
	delay := 30 * time.Millisecond
	g := NewGate(delay, delay)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Wait(ctx))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), delay-10*time.Millisecond)
	}
}

func TestGate_ZeroDelayDoesNotBlock(t *testing.T) {
	g := NewGate(0, 0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, g.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGate_WaitHonoursContext(t *testing.T) {
	g := NewGate(time.Hour, time.Hour)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Wait(ctx))
}

func TestGate_SetDelay(t *testing.T) {
	g := NewGate(time.Second, 2*time.Second)
	g.SetDelay(3*time.Second, time.Second)

	assert.Equal(t, 3*time.Second, g.minDelay)
	assert.Equal(t, 3*time.Second, g.maxDelay)
}

func TestAdaptiveGate(t *testing.T) {
	a := NewAdaptiveGate(2*time.Second, 4*time.Second)

	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	assert.Equal(t, 3*time.Second, a.minDelay)
	assert.Equal(t, 6*time.Second, a.maxDelay)

	for i := 0; i < 30; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, 2*time.Second, a.minDelay, "never faster than the configured floor")
}

func TestRegistry_OneGatePerSupplier(t *testing.T) {
	created := 0
	r := NewRegistry(func() RateLimiter {
		created++
		return NewGate(0, 0)
	})

	a := r.For("leroy_merlin")
	b := r.For("leroy_merlin")
	c := r.For("castorama")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, created)
}
