package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// Feedback is implemented by limiters that adapt their pacing to how the
// remote site reacts.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// Gate paces requests to one supplier. Consecutive Wait calls return at
// least minDelay apart no matter how many goroutines share the gate; only the
// reservation of the next slot is serialized, the waiting itself is not.
type Gate struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	jitter   bool
}

func NewGate(minDelay, maxDelay time.Duration) *Gate {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Gate{
		limiter:  rate.NewLimiter(every(minDelay), 1),
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

func (g *Gate) Wait(ctx context.Context) error {
	if extra := g.calculateJitter(); extra > 0 {
		timer := time.NewTimer(extra)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return g.limiter.Wait(ctx)
}

func (g *Gate) SetDelay(min, max time.Duration) {
	if max < min {
		max = min
	}

	g.mu.Lock()
	g.minDelay = min
	g.maxDelay = max
	g.mu.Unlock()

	g.limiter.SetLimit(every(min))
}

// calculateJitter picks the random part of the delay. It is slept before the
// slot is reserved, so it shuffles request order without shrinking the
// minimum spacing.
func (g *Gate) calculateJitter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.jitter || g.minDelay == g.maxDelay {
		return 0
	}

	delta := g.maxDelay - g.minDelay
	return time.Duration(rand.Int63n(int64(delta)))
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// AdaptiveGate slows down after repeated throttling and speeds back up, never
// below the configured floor, once requests succeed again.
type AdaptiveGate struct {
	*Gate
	floor         time.Duration
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveGate(minDelay, maxDelay time.Duration) *AdaptiveGate {
	return &AdaptiveGate{
		Gate:          NewGate(minDelay, maxDelay),
		floor:         minDelay,
		maxErrorCount: 3,
		backoffFactor: 1.5,
	}
}

func (a *AdaptiveGate) RecordSuccess() {
	a.mu.Lock()
	a.successCount++
	a.errorCount = 0

	if a.successCount <= 5 {
		a.mu.Unlock()
		return
	}

	a.successCount = 0
	newMin := time.Duration(float64(a.minDelay) * 0.9)
	if newMin < a.floor {
		newMin = a.floor
	}
	max := a.maxDelay
	a.mu.Unlock()

	a.SetDelay(newMin, max)
}

func (a *AdaptiveGate) RecordError() {
	a.mu.Lock()
	a.errorCount++
	a.successCount = 0

	if a.errorCount < a.maxErrorCount {
		a.mu.Unlock()
		return
	}

	a.errorCount = 0
	newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
	newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
	if newMin == 0 {
		newMin = time.Second
	}
	if newMin > 60*time.Second {
		newMin = 60 * time.Second
	}
	if newMax > 120*time.Second {
		newMax = 120 * time.Second
	}
	a.mu.Unlock()

	a.SetDelay(newMin, newMax)
}

// Registry owns one limiter per supplier for the lifetime of a run.
type Registry struct {
	mu      sync.Mutex
	gates   map[string]RateLimiter
	factory func() RateLimiter
}

func NewRegistry(factory func() RateLimiter) *Registry {
	return &Registry{
		gates:   make(map[string]RateLimiter),
		factory: factory,
	}
}

// For returns the limiter shared by every task targeting supplier.
func (r *Registry) For(supplier string) RateLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gates[supplier]
	if !ok {
		g = r.factory()
		r.gates[supplier] = g
	}
	return g
}
