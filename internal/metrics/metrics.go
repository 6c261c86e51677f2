package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/models"
)

const namespace = "material_scraper"

// Collector holds the scraper metrics on its own registry so several
// collectors can coexist in one process (tests, embedded use).
type Collector struct {
	registry *prometheus.Registry

	fetchAttempts   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	recordsEmitted  *prometheus.CounterVec
	recordsSkipped  *prometheus.CounterVec
	priceUnparsed   *prometheus.CounterVec
	pairFailures    *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	lastRunRecords  prometheus.Gauge
	lastRunFinished prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Outbound fetch attempts by supplier and outcome.",
		}, []string{"supplier", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_attempt_duration_seconds",
			Help:      "Latency of outbound fetch attempts.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"supplier", "outcome"}),
		recordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Product records emitted per supplier and category.",
		}, []string{"supplier", "category"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Candidates skipped per supplier and category.",
		}, []string{"supplier", "category"}),
		priceUnparsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_unparsed_total",
			Help:      "Records whose price could not be read and defaulted to zero.",
		}, []string{"supplier", "category"}),
		pairFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_failures_total",
			Help:      "Failed supplier/category pairs by error kind.",
		}, []string{"supplier", "category", "kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of API request durations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "route", "status"}),
		lastRunRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_records",
			Help:      "Records emitted by the most recent run.",
		}),
		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_finished_timestamp_seconds",
			Help:      "Unix time the most recent run finished.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.fetchAttempts,
		c.fetchDuration,
		c.recordsEmitted,
		c.recordsSkipped,
		c.priceUnparsed,
		c.pairFailures,
		c.httpRequests,
		c.httpDuration,
		c.lastRunRecords,
		c.lastRunFinished,
	)

	return c
}

// ObserveAttempt implements fetch.Observer.
func (c *Collector) ObserveAttempt(a fetch.Attempt) {
	outcome := string(a.Outcome)
	c.fetchAttempts.WithLabelValues(a.Supplier, outcome).Inc()
	c.fetchDuration.WithLabelValues(a.Supplier, outcome).Observe(a.Latency.Seconds())
}

// RecordSummary implements pipeline.SummaryRecorder.
func (c *Collector) RecordSummary(s models.Summary) {
	category := string(s.Category)
	c.recordsEmitted.WithLabelValues(s.Supplier, category).Add(float64(s.SuccessCount))
	c.recordsSkipped.WithLabelValues(s.Supplier, category).Add(float64(s.SkippedCount))
	c.priceUnparsed.WithLabelValues(s.Supplier, category).Add(float64(s.PriceUnparsedCount))
	if s.ErrorKind != nil {
		c.pairFailures.WithLabelValues(s.Supplier, category, *s.ErrorKind).Inc()
	}
}

// RecordRun updates the last-run gauges.
func (c *Collector) RecordRun(records int, finished time.Time) {
	c.lastRunRecords.Set(float64(records))
	c.lastRunFinished.Set(float64(finished.Unix()))
}

// RecordRequest records one API request.
func (c *Collector) RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return strconv.Itoa(statusCode)
}

// Handler exposes the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry is exposed for tests and for embedding into another registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
