package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/material-scraper/internal/category"
	"github.com/maltedev/material-scraper/internal/fetch"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/normalize"
	"github.com/maltedev/material-scraper/internal/ratelimit"
	"github.com/maltedev/material-scraper/internal/supplier"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoSuppliers    = errors.New("no suppliers selected")
)

// Error kinds reported in a pair summary.
const (
	ErrorKindRejected             = string(fetch.KindRejected)
	ErrorKindExhausted            = string(fetch.KindExhausted)
	ErrorKindParse                = "parse_error"
	ErrorKindUnconfiguredCategory = "unconfigured_category"
	ErrorKindCancelled            = "cancelled"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	// StateFailed means the run finished but at least one pair reported an
	// error kind. Records from the other pairs are still returned.
	StateFailed State = "failed"
)

// Fetcher is satisfied by *fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// SummaryRecorder receives every pair summary once a run finishes.
type SummaryRecorder interface {
	RecordSummary(s models.Summary)
}

// Dependencies are the collaborators of an Orchestrator. Nil fields get
// defaults.
type Dependencies struct {
	Fetcher    Fetcher
	Extractors *supplier.Registry
	Mapper     *category.Mapper
	Normalizer *normalize.Normalizer
	Recorder   SummaryRecorder
	Logger     *slog.Logger
}

type Result struct {
	RunID      string                 `json:"run_id"`
	State      State                  `json:"state"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Records    []models.ProductRecord `json:"records"`
	Summaries  []models.Summary       `json:"summaries"`

	// Partial is set when the run was restricted to some suppliers or
	// categories.
	Partial bool `json:"partial"`
}

// Failed returns the summaries that carry an error kind.
func (r *Result) Failed() []models.Summary {
	var failed []models.Summary
	for _, s := range r.Summaries {
		if s.Failed() {
			failed = append(failed, s)
		}
	}
	return failed
}

// Orchestrator drives runs over the configured suppliers. The supplier
// definitions and the category mapper must not be modified while a run is in
// progress.
type Orchestrator struct {
	suppliers  []supplier.Definition
	fetcher    Fetcher
	extractors *supplier.Registry
	mapper     *category.Mapper
	normalizer *normalize.Normalizer
	recorder   SummaryRecorder
	logger     *slog.Logger

	mu    sync.Mutex
	state State
}

func New(suppliers []supplier.Definition, deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Fetcher == nil {
		deps.Fetcher = fetch.New(nil, fetch.Options{}, nil, logger)
	}
	if deps.Extractors == nil {
		deps.Extractors = supplier.NewRegistry()
	}
	if deps.Mapper == nil {
		deps.Mapper = category.NewMapper()
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New()
	}

	return &Orchestrator{
		suppliers:  suppliers,
		fetcher:    deps.Fetcher,
		extractors: deps.Extractors,
		mapper:     deps.Mapper,
		normalizer: deps.Normalizer,
		recorder:   deps.Recorder,
		logger:     logger.With("component", "orchestrator"),
		state:      StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Suppliers returns the configured supplier definitions.
func (o *Orchestrator) Suppliers() []supplier.Definition {
	return slices.Clone(o.suppliers)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run scrapes every selected (supplier, category) pair and returns the
// deduplicated records with one summary per pair.
//
// Only configuration errors are returned as error; they are detected before
// any request is sent. Fetch and extraction failures are reported in the pair
// summaries. Cancelling ctx stops scheduling new pairs; pairs already running
// finish their current fetch.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.state = StateRunning
	o.mu.Unlock()

	opts = opts.withDefaults()
	result := &Result{
		RunID:     uuid.New().String(),
		Partial:   len(opts.Suppliers) > 0 || len(opts.Categories) > 0,
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.With("run_id", result.RunID)

	tasks, early, err := o.plan(opts)
	if err != nil {
		o.setState(StateFailed)
		logger.Error("run aborted by configuration error", "error", err)
		return nil, err
	}

	logger.Info("run started",
		"tasks", len(tasks),
		"concurrency", opts.Concurrency,
		"max_products_per_category", opts.MaxProductsPerCategory)

	limiters := ratelimit.NewRegistry(opts.limiterFactory())
	outcomes := make([]taskOutcome, len(tasks))

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)

	for i, t := range tasks {
		if ctx.Err() != nil {
			outcomes[i] = cancelledOutcome(t)
			continue
		}

		t.limiter = limiters.For(t.def.ID)
		g.Go(func() error {
			// Go blocks until a slot frees up, so the stop signal is checked
			// again once the task actually starts.
			if ctx.Err() != nil {
				outcomes[i] = cancelledOutcome(t)
				return nil
			}
			outcomes[i] = o.runTask(ctx, t, opts)
			return nil
		})
	}
	// Tasks never return errors; failures live in their outcomes.
	_ = g.Wait()

	result.Records, result.Summaries = o.aggregate(outcomes, logger)
	result.Summaries = append(result.Summaries, early...)
	result.FinishedAt = time.Now().UTC()

	result.State = StateCompleted
	if len(result.Failed()) > 0 {
		result.State = StateFailed
	}
	o.setState(result.State)

	if o.recorder != nil {
		for _, s := range result.Summaries {
			o.recorder.RecordSummary(s)
		}
	}

	if len(result.Records) == 0 {
		logger.Warn("run produced no records",
			"pairs", len(result.Summaries),
			"failed_pairs", len(result.Failed()))
	}

	logger.Info("run finished",
		"state", result.State,
		"records", len(result.Records),
		"failed_pairs", len(result.Failed()),
		"duration", result.FinishedAt.Sub(result.StartedAt))

	return result, nil
}

// plan resolves the supplier and category filters into tasks. Explicitly
// requested categories a supplier does not configure come back as failed
// summaries instead of tasks.
func (o *Orchestrator) plan(opts Options) ([]task, []models.Summary, error) {
	defs, err := o.selectSuppliers(opts.Suppliers)
	if err != nil {
		return nil, nil, err
	}

	for _, c := range opts.Categories {
		if !c.Valid() {
			return nil, nil, fmt.Errorf("%q is not a canonical category", c)
		}
	}

	var (
		tasks []task
		early []models.Summary
	)

	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, nil, err
		}

		extractor, err := o.extractors.New(def)
		if err != nil {
			return nil, nil, err
		}

		if err := o.registerLabels(def); err != nil {
			return nil, nil, err
		}

		categories := opts.Categories
		if len(categories) == 0 {
			categories = models.AllCategories()
		}

		for _, c := range categories {
			if _, ok := def.Categories[c]; !ok {
				if len(opts.Categories) > 0 {
					kind := ErrorKindUnconfiguredCategory
					early = append(early, models.Summary{
						Supplier:  def.DisplayName(),
						Category:  c,
						ErrorKind: &kind,
					})
				}
				continue
			}
			tasks = append(tasks, task{def: def, category: c, extractor: extractor})
		}
	}

	return tasks, early, nil
}

// registerLabels teaches the mapper the labels a supplier's listing pages
// carry, so candidates tagged with the page label map to the configured
// category.
func (o *Orchestrator) registerLabels(def supplier.Definition) error {
	for _, c := range models.AllCategories() {
		src, ok := def.Categories[c]
		if !ok || strings.TrimSpace(src.Label) == "" {
			continue
		}
		if err := o.mapper.Register(def.ID, src.Label, c); err != nil {
			return fmt.Errorf("supplier %s: %w", def.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) selectSuppliers(ids []string) ([]supplier.Definition, error) {
	if len(ids) == 0 {
		if len(o.suppliers) == 0 {
			return nil, ErrNoSuppliers
		}
		return o.suppliers, nil
	}

	var defs []supplier.Definition
	for _, id := range ids {
		i := slices.IndexFunc(o.suppliers, func(d supplier.Definition) bool { return d.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", supplier.ErrUnknownSupplier, id)
		}
		defs = append(defs, o.suppliers[i])
	}
	return defs, nil
}

// aggregate is the single owner of the run-wide dedup set. Outcomes are
// visited in task order so the first-seen record is deterministic.
func (o *Orchestrator) aggregate(outcomes []taskOutcome, logger *slog.Logger) ([]models.ProductRecord, []models.Summary) {
	seen := make(map[string]struct{})
	records := make([]models.ProductRecord, 0)
	summaries := make([]models.Summary, 0, len(outcomes))

	for _, out := range outcomes {
		summary := out.summary
		for _, rec := range out.records {
			key := rec.Key()
			if _, dup := seen[key]; dup {
				summary.SkippedCount++
				logger.Debug("duplicate record dropped",
					"supplier", rec.Supplier,
					"category", rec.Category,
					"url", rec.ProductURL)
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
			summary.SuccessCount++
		}
		summaries = append(summaries, summary)
	}

	return records, summaries
}
