package pipeline

import (
	"time"

	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/ratelimit"
)

const (
	defaultMaxPages    = 1
	defaultMaxRetries  = 3
	defaultTimeout     = 30 * time.Second
	defaultConcurrency = 4
)

// Options is the immutable scraping behaviour for one run.
type Options struct {
	// Suppliers and Categories restrict the run; empty means everything
	// configured.
	Suppliers  []string
	Categories []models.Category

	// MaxProductsPerCategory caps raw candidates pulled per (supplier,
	// category) pair. Zero means no cap.
	MaxProductsPerCategory int
	MaxPages               int

	// Delay is the pacing delay between requests to one supplier; Jitter adds
	// up to that much random extra wait.
	Delay    time.Duration
	Jitter   time.Duration
	Adaptive bool

	Timeout     time.Duration
	MaxRetries  int
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Jitter < 0 {
		o.Jitter = 0
	}
	return o
}

// limiterFactory builds the per-supplier gate described by o.
func (o Options) limiterFactory() func() ratelimit.RateLimiter {
	return func() ratelimit.RateLimiter {
		if o.Adaptive {
			return ratelimit.NewAdaptiveGate(o.Delay, o.Delay+o.Jitter)
		}
		return ratelimit.NewGate(o.Delay, o.Delay+o.Jitter)
	}
}
