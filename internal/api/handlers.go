package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/material-scraper/internal/jobs"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
	"github.com/maltedev/material-scraper/internal/storage"
	"github.com/maltedev/material-scraper/internal/supplier"
)

const serviceName = "material-scraper"

// RecordReader serves the records of the latest run.
type RecordReader interface {
	Records(f storage.Filter) ([]models.ProductRecord, error)
	Summary() (storage.RunSummary, bool)
	Stats() map[string]int
}

type Runner interface {
	Execute(ctx context.Context, req jobs.Request) (*pipeline.Result, error)
	Submit(req jobs.Request) (*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	List() []*jobs.Job
}

// OutboxMonitor reports the delivery backlog when a database is configured.
type OutboxMonitor interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	records   RecordReader
	runner    Runner
	outbox    OutboxMonitor
	suppliers []supplier.Definition
	state     func() pipeline.State
	logger    *slog.Logger
}

// NewHandlers builds the handlers. outbox and state may be nil.
func NewHandlers(records RecordReader, runner Runner, suppliers []supplier.Definition, state func() pipeline.State, outbox OutboxMonitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		records:   records,
		runner:    runner,
		outbox:    outbox,
		suppliers: suppliers,
		state:     state,
		logger:    logger.With("component", "api"),
	}
}

// MaterialsResponse is the envelope of every record listing.
type MaterialsResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Category  *string                `json:"category"`
	Supplier  string                 `json:"supplier,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Count     int                    `json:"count"`
	Products  []models.ProductRecord `json:"products"`
}

type ScrapeResponse struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	RunID       string           `json:"run_id"`
	State       pipeline.State   `json:"state"`
	Count       int              `json:"count"`
	FailedPairs []models.Summary `json:"failed_pairs,omitempty"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "healthy",
		"service": serviceName,
	}
	if h.state != nil {
		health["scraper_state"] = h.state()
	}
	if summary, ok := h.records.Summary(); ok {
		health["last_run"] = map[string]any{
			"run_id":      summary.RunID,
			"state":       summary.State,
			"finished_at": summary.FinishedAt,
			"count":       summary.Count,
		}
	}

	status := http.StatusOK
	if h.outbox != nil {
		pending, pendingErr := h.outbox.PendingCount(r.Context())
		deadLetter, deadErr := h.outbox.DeadLetterCount(r.Context())
		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		switch {
		case pendingErr != nil || deadErr != nil:
			health["status"] = "degraded"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case deadLetter > 0:
			health["status"] = "degraded"
			health["message"] = "events in dead letter"
		}
	}

	h.respondJSON(w, status, health)
}

// ListMaterials serves GET /materials with optional category and supplier
// query filters.
func (h *Handlers) ListMaterials(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.serveMaterials(w, r, q.Get("category"), q.Get("supplier"))
}

func (h *Handlers) MaterialsByCategory(w http.ResponseWriter, r *http.Request) {
	h.serveMaterials(w, r, chi.URLParam(r, "category"), "")
}

func (h *Handlers) MaterialsBySupplier(w http.ResponseWriter, r *http.Request) {
	h.serveMaterials(w, r, "", chi.URLParam(r, "supplier"))
}

func (h *Handlers) serveMaterials(w http.ResponseWriter, r *http.Request, rawCategory, rawSupplier string) {
	var filter storage.Filter

	if rawCategory != "" {
		c, err := models.ParseCategory(rawCategory)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Category = c
	}

	if rawSupplier != "" {
		def, ok := h.findSupplier(rawSupplier)
		if !ok {
			h.respondError(w, http.StatusNotFound, "unknown supplier: "+rawSupplier)
			return
		}
		filter.Supplier = def.DisplayName()
	}

	if r.URL.Query().Get("refresh") == "true" {
		req := jobs.Request{}
		if filter.Category != "" {
			req.Categories = []string{string(filter.Category)}
		}
		if rawSupplier != "" {
			def, _ := h.findSupplier(rawSupplier)
			req.Suppliers = []string{def.ID}
		}
		if _, err := h.runner.Execute(r.Context(), req); err != nil {
			h.respondRunError(w, err)
			return
		}
	}

	products, err := h.records.Records(filter)
	if errors.Is(err, storage.ErrNoData) {
		h.respondError(w, http.StatusNotFound, "no scraped data available, POST /scrape first")
		return
	}
	if err != nil {
		h.logger.Error("failed to read records", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read records")
		return
	}

	resp := MaterialsResponse{
		Status:    "success",
		Timestamp: time.Now().UTC(),
		Count:     len(products),
		Products:  products,
	}
	if filter.Category != "" {
		c := string(filter.Category)
		resp.Category = &c
	}
	if rawSupplier != "" {
		resp.Supplier = rawSupplier
	}
	if summary, ok := h.records.Summary(); ok {
		resp.Timestamp = summary.FinishedAt
		resp.RunID = summary.RunID
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Categories(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"categories": models.AllCategories(),
		"counts":     h.records.Stats(),
	})
}

func (h *Handlers) Suppliers(w http.ResponseWriter, r *http.Request) {
	type supplierInfo struct {
		ID         string            `json:"id"`
		Name       string            `json:"name"`
		BaseURL    string            `json:"base_url"`
		Categories []models.Category `json:"categories"`
	}

	suppliers := make([]supplierInfo, 0, len(h.suppliers))
	for _, def := range h.suppliers {
		info := supplierInfo{ID: def.ID, Name: def.DisplayName(), BaseURL: def.BaseURL}
		for _, c := range models.AllCategories() {
			if _, ok := def.Categories[c]; ok {
				info.Categories = append(info.Categories, c)
			}
		}
		suppliers = append(suppliers, info)
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"suppliers": suppliers,
	})
}

// Scrape runs the pipeline and waits for it unless async=true is given, in
// which case the run is queued and 202 is returned with the job.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		job, err := h.runner.Submit(req)
		if err != nil {
			h.respondRunError(w, err)
			return
		}
		h.respondJSON(w, http.StatusAccepted, job)
		return
	}

	result, err := h.runner.Execute(r.Context(), req)
	if err != nil {
		h.respondRunError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, ScrapeResponse{
		Status:      "success",
		Message:     fmt.Sprintf("Scraped %d products", len(result.Records)),
		RunID:       result.RunID,
		State:       result.State,
		Count:       len(result.Records),
		FailedPairs: result.Failed(),
	})
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.runner.List())
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.runner.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) findSupplier(raw string) (supplier.Definition, bool) {
	key := storage.SupplierKey(raw)
	for _, def := range h.suppliers {
		if storage.SupplierKey(def.ID) == key || storage.SupplierKey(def.DisplayName()) == key {
			return def, true
		}
	}
	return supplier.Definition{}, false
}

func (h *Handlers) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest), errors.Is(err, supplier.ErrUnknownSupplier):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrAlreadyRunning), errors.Is(err, jobs.ErrQueueFull):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("scrape failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Status: "error", Message: message})
}
