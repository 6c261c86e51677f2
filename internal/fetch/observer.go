package fetch

import (
	"log/slog"
	"time"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomeRejected  Outcome = "rejected"
)

// Attempt describes a single outbound request.
type Attempt struct {
	Supplier   string
	URL        string
	Number     int
	StatusCode int
	Latency    time.Duration
	Outcome    Outcome
	Err        error
}

// Observer receives every attempt made by a Fetcher, successful or not.
type Observer interface {
	ObserveAttempt(a Attempt)
}

type ObserverFunc func(a Attempt)

func (f ObserverFunc) ObserveAttempt(a Attempt) {
	f(a)
}

// MultiObserver fans attempts out to several observers.
type MultiObserver []Observer

func (m MultiObserver) ObserveAttempt(a Attempt) {
	for _, o := range m {
		if o != nil {
			o.ObserveAttempt(a)
		}
	}
}

type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With("component", "fetch_observer")}
}

func (o *LogObserver) ObserveAttempt(a Attempt) {
	attrs := []any{
		"supplier", a.Supplier,
		"url", a.URL,
		"attempt", a.Number,
		"status", a.StatusCode,
		"latency", a.Latency,
		"outcome", a.Outcome,
	}
	if a.Err != nil {
		attrs = append(attrs, "error", a.Err)
	}
	o.logger.Debug("fetch attempt", attrs...)
}
