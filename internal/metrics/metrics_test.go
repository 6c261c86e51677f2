package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/models"
)

func TestCollector_ObserveAttempt(t *testing.T) {
	c := New()

	c.ObserveAttempt(fetch.Attempt{Supplier: "leroy_merlin", Outcome: fetch.OutcomeSuccess, Latency: 120 * time.Millisecond})
	c.ObserveAttempt(fetch.Attempt{Supplier: "leroy_merlin", Outcome: fetch.OutcomeTransient, StatusCode: 429, Err: errors.New("429")})
	c.ObserveAttempt(fetch.Attempt{Supplier: "leroy_merlin", Outcome: fetch.OutcomeTransient, StatusCode: 503})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("leroy_merlin", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.fetchAttempts.WithLabelValues("leroy_merlin", "transient")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.fetchDuration))
}

func TestCollector_RecordSummary(t *testing.T) {
	c := New()
	kind := "exhausted"

	c.RecordSummary(models.Summary{Supplier: "Castorama", Category: models.CategoryPaint, SuccessCount: 4, SkippedCount: 1, PriceUnparsedCount: 2})
	c.RecordSummary(models.Summary{Supplier: "Castorama", Category: models.CategoryTiles, ErrorKind: &kind})

	assert.Equal(t, 4.0, testutil.ToFloat64(c.recordsEmitted.WithLabelValues("Castorama", "paint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recordsSkipped.WithLabelValues("Castorama", "paint")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.priceUnparsed.WithLabelValues("Castorama", "paint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pairFailures.WithLabelValues("Castorama", "tiles", "exhausted")))
}

func TestCollector_RecordRequest(t *testing.T) {
	c := New()

	c.RecordRequest(http.MethodGet, "/materials", http.StatusOK, 10*time.Millisecond)
	c.RecordRequest(http.MethodGet, "/materials/{category}", http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/materials", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/materials/{category}", "4xx")))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, "2xx", classifyStatus(204))
	assert.Equal(t, "3xx", classifyStatus(301))
	assert.Equal(t, "4xx", classifyStatus(429))
	assert.Equal(t, "5xx", classifyStatus(503))
	assert.Equal(t, "0", classifyStatus(0))
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.RecordRun(12, time.Unix(1700000000, 0))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "material_scraper_last_run_records 12")
}
