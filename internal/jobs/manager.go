package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/material-scraper/internal/events"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

var (
	ErrInvalidRequest = errors.New("invalid scrape request")
	ErrJobNotFound    = errors.New("job not found")
	ErrQueueFull      = errors.New("job queue is full")
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	historySize = 50
	queueSize   = 16
)

type Scraper interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// RecordSaver persists the record file that the API serves.
type RecordSaver interface {
	Save(result *pipeline.Result) error
	Path() string
}

// RunStore writes records and the run event in one transaction.
type RunStore interface {
	SaveRun(ctx context.Context, result *pipeline.Result, payload *events.MaterialsScrapedPayload) error
}

type EventPublisher interface {
	PublishMaterialsScraped(ctx context.Context, payload *events.MaterialsScrapedPayload) (string, error)
}

type RunRecorder interface {
	RecordRun(records int, finished time.Time)
}

// Dependencies wires the manager. Only Scraper and Records are required.
// When Runs is set the event goes through the database outbox and
// Publisher is not used.
type Dependencies struct {
	Scraper   Scraper
	Records   RecordSaver
	Runs      RunStore
	Publisher EventPublisher
	Metrics   RunRecorder
	Logger    *slog.Logger
}

// Request narrows one run. Empty fields fall back to the configured defaults.
type Request struct {
	Suppliers              []string `json:"suppliers,omitempty"`
	Categories             []string `json:"categories,omitempty"`
	MaxProductsPerCategory int      `json:"max_products_per_category,omitempty"`
}

// Job is the bookkeeping entry for one requested run.
type Job struct {
	ID          string           `json:"id"`
	RunID       string           `json:"run_id,omitempty"`
	Status      string           `json:"status"`
	Request     Request          `json:"request"`
	RecordCount int              `json:"record_count"`
	FailedPairs []models.Summary `json:"failed_pairs,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

type Manager struct {
	scraper   Scraper
	records   RecordSaver
	runs      RunStore
	publisher EventPublisher
	metrics   RunRecorder
	defaults  pipeline.Options
	logger    *slog.Logger

	queue chan *Job

	mu      sync.RWMutex
	history []*Job
}

func NewManager(defaults pipeline.Options, deps Dependencies) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		scraper:   deps.Scraper,
		records:   deps.Records,
		runs:      deps.Runs,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		defaults:  defaults,
		logger:    logger.With("component", "job_manager"),
		queue:     make(chan *Job, queueSize),
	}
}

// Options merges req into the configured defaults.
func (m *Manager) Options(req Request) (pipeline.Options, error) {
	opts := m.defaults
	opts.Suppliers = slices.Clone(m.defaults.Suppliers)
	opts.Categories = slices.Clone(m.defaults.Categories)

	if len(req.Suppliers) > 0 {
		opts.Suppliers = req.Suppliers
	}

	if len(req.Categories) > 0 {
		opts.Categories = opts.Categories[:0]
		for _, raw := range req.Categories {
			c, err := models.ParseCategory(raw)
			if err != nil {
				return pipeline.Options{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			opts.Categories = append(opts.Categories, c)
		}
	}

	switch {
	case req.MaxProductsPerCategory < 0:
		return pipeline.Options{}, fmt.Errorf("%w: max_products_per_category must not be negative", ErrInvalidRequest)
	case req.MaxProductsPerCategory > 0:
		opts.MaxProductsPerCategory = req.MaxProductsPerCategory
	}

	return opts, nil
}

// Execute runs the pipeline for req and persists the outcome before
// returning.
func (m *Manager) Execute(ctx context.Context, req Request) (*pipeline.Result, error) {
	job := m.newJob(req)
	m.remember(job)
	return m.execute(ctx, job)
}

// Submit queues req for the background worker.
func (m *Manager) Submit(req Request) (*Job, error) {
	if _, err := m.Options(req); err != nil {
		return nil, err
	}

	job := m.newJob(req)
	queued := job.snapshot()

	select {
	case m.queue <- job:
	default:
		return nil, ErrQueueFull
	}

	m.remember(job)
	m.logger.Info("job queued", "id", job.ID)
	return queued, nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, job := range m.history {
		if job.ID == id {
			return job.snapshot(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// List returns the remembered jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		jobs = append(jobs, m.history[i].snapshot())
	}
	return jobs
}

func (m *Manager) execute(ctx context.Context, job *Job) (*pipeline.Result, error) {
	logger := m.logger.With("job_id", job.ID)

	opts, err := m.Options(job.Request)
	if err != nil {
		m.finish(job, nil, err)
		return nil, err
	}

	m.update(job, func(j *Job) {
		now := time.Now().UTC()
		j.Status = StatusRunning
		j.StartedAt = &now
	})

	result, err := m.scraper.Run(ctx, opts)
	if err != nil {
		logger.Error("run failed", "error", err)
		m.finish(job, nil, err)
		return nil, err
	}

	err = m.persist(ctx, result, logger)
	m.finish(job, result, err)
	if err != nil {
		return result, err
	}

	if m.metrics != nil {
		m.metrics.RecordRun(len(result.Records), result.FinishedAt)
	}

	logger.Info("job completed",
		"run_id", result.RunID,
		"records", len(result.Records),
		"failed_pairs", len(result.Failed()))

	return result, nil
}

// persist saves the record file, then hands the run event to the outbox or
// straight to the stream. A stream failure is logged only; the record file
// is already in place.
func (m *Manager) persist(ctx context.Context, result *pipeline.Result, logger *slog.Logger) error {
	if err := m.records.Save(result); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}

	payload := events.NewMaterialsScraped(result, m.records.Path())

	switch {
	case m.runs != nil:
		if err := m.runs.SaveRun(ctx, result, payload); err != nil {
			return fmt.Errorf("failed to store run: %w", err)
		}
	case m.publisher != nil:
		if _, err := m.publisher.PublishMaterialsScraped(ctx, payload); err != nil {
			logger.Warn("failed to publish run event", "run_id", result.RunID, "error", err)
		}
	}

	return nil
}

func (m *Manager) newJob(req Request) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: time.Now().UTC(),
	}
}

func (m *Manager) remember(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, job)
	if over := len(m.history) - historySize; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
}

func (m *Manager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func (m *Manager) finish(job *Job, result *pipeline.Result, err error) {
	m.update(job, func(j *Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Status = StatusCompleted

		if result != nil {
			j.RunID = result.RunID
			j.RecordCount = len(result.Records)
			j.FailedPairs = result.Failed()
			if result.State == pipeline.StateFailed {
				j.Status = StatusFailed
			}
		}
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
		}
	})
}

// snapshot copies j. Callers must hold the manager lock or own j.
func (j *Job) snapshot() *Job {
	c := *j
	c.FailedPairs = slices.Clone(j.FailedPairs)
	return &c
}
