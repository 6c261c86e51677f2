package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/material-scraper/internal/events"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) SaveRun(ctx context.Context, result *pipeline.Result, payload *events.MaterialsScrapedPayload) error {
	return m.Called(ctx, result, payload).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMaterialsScraped(ctx context.Context, payload *events.MaterialsScrapedPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

type fakeRecords struct {
	saved []*pipeline.Result
	err   error
}

func (f *fakeRecords) Save(result *pipeline.Result) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, result)
	return nil
}

func (f *fakeRecords) Path() string { return "data/materials.json" }

type fakeRecorder struct {
	runs int
}

func (f *fakeRecorder) RecordRun(int, time.Time) { f.runs++ }

func completedResult() *pipeline.Result {
	return &pipeline.Result{
		RunID:      "run-1",
		State:      pipeline.StateCompleted,
		FinishedAt: time.Now(),
		Records: []models.ProductRecord{{
			ProductName: "Lavabo céramique blanc",
			Category:    models.CategorySinks,
			Price:       89.9,
			Currency:    "EUR",
			ProductURL:  "https://www.castorama.fr/lavabo-1.html",
			Supplier:    "Castorama",
		}},
	}
}

func TestManager_Options(t *testing.T) {
	defaults := pipeline.Options{
		Categories:             []models.Category{models.CategoryTiles},
		MaxProductsPerCategory: 20,
		Concurrency:            2,
	}
	m := NewManager(defaults, Dependencies{Logger: slog.Default()})

	tests := []struct {
		name    string
		req     Request
		want    pipeline.Options
		wantErr bool
	}{
		{
			name: "empty request keeps defaults",
			want: defaults,
		},
		{
			name: "request overrides filters and cap",
			req: Request{
				Suppliers:              []string{"castorama"},
				Categories:             []string{" Paint ", "showers"},
				MaxProductsPerCategory: 5,
			},
			want: pipeline.Options{
				Suppliers:              []string{"castorama"},
				Categories:             []models.Category{models.CategoryPaint, models.CategoryShowers},
				MaxProductsPerCategory: 5,
				Concurrency:            2,
			},
		},
		{
			name:    "unknown category",
			req:     Request{Categories: []string{"garden"}},
			wantErr: true,
		},
		{
			name:    "negative cap",
			req:     Request{MaxProductsPerCategory: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Options(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("defaults are not aliased", func(t *testing.T) {
		_, err := m.Options(Request{Categories: []string{"sinks"}})
		require.NoError(t, err)
		assert.Equal(t, []models.Category{models.CategoryTiles}, defaults.Categories)
		assert.Equal(t, []models.Category{models.CategoryTiles}, m.defaults.Categories)
	})
}

func TestManager_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("saves records and writes the outbox event", func(t *testing.T) {
		scraper := new(MockScraper)
		runs := new(MockRunStore)
		publisher := new(MockPublisher)
		records := &fakeRecords{}
		recorder := &fakeRecorder{}
		result := completedResult()

		scraper.On("Run", ctx, mock.Anything).Return(result, nil)
		runs.On("SaveRun", ctx, result, mock.MatchedBy(func(p *events.MaterialsScrapedPayload) bool {
			return p.RunID == "run-1" && p.RecordCount == 1 && p.OutputPath == "data/materials.json"
		})).Return(nil)

		m := NewManager(pipeline.Options{}, Dependencies{
			Scraper:   scraper,
			Records:   records,
			Runs:      runs,
			Publisher: publisher,
			Metrics:   recorder,
		})

		got, err := m.Execute(ctx, Request{})
		require.NoError(t, err)
		assert.Same(t, result, got)
		assert.Len(t, records.saved, 1)
		assert.Equal(t, 1, recorder.runs)

		publisher.AssertNotCalled(t, "PublishMaterialsScraped", mock.Anything, mock.Anything)
		runs.AssertExpectations(t)

		jobs := m.List()
		require.Len(t, jobs, 1)
		assert.Equal(t, StatusCompleted, jobs[0].Status)
		assert.Equal(t, "run-1", jobs[0].RunID)
		assert.Equal(t, 1, jobs[0].RecordCount)
	})

	t.Run("publishes directly without a database", func(t *testing.T) {
		scraper := new(MockScraper)
		publisher := new(MockPublisher)
		result := completedResult()

		scraper.On("Run", ctx, mock.Anything).Return(result, nil)
		publisher.On("PublishMaterialsScraped", ctx, mock.Anything).Return("", errors.New("redis down"))

		m := NewManager(pipeline.Options{}, Dependencies{
			Scraper:   scraper,
			Records:   &fakeRecords{},
			Publisher: publisher,
		})

		_, err := m.Execute(ctx, Request{})
		assert.NoError(t, err, "stream failures are not fatal")
		publisher.AssertExpectations(t)
	})

	t.Run("configuration error fails the job", func(t *testing.T) {
		scraper := new(MockScraper)
		scraper.On("Run", ctx, mock.Anything).Return(nil, pipeline.ErrNoSuppliers)
		records := &fakeRecords{}

		m := NewManager(pipeline.Options{}, Dependencies{Scraper: scraper, Records: records})

		_, err := m.Execute(ctx, Request{})
		assert.ErrorIs(t, err, pipeline.ErrNoSuppliers)
		assert.Empty(t, records.saved)

		job := m.List()[0]
		assert.Equal(t, StatusFailed, job.Status)
		assert.Equal(t, pipeline.ErrNoSuppliers.Error(), job.Error)
	})

	t.Run("record file failure is returned", func(t *testing.T) {
		scraper := new(MockScraper)
		scraper.On("Run", ctx, mock.Anything).Return(completedResult(), nil)

		m := NewManager(pipeline.Options{}, Dependencies{
			Scraper: scraper,
			Records: &fakeRecords{err: errors.New("disk full")},
		})

		result, err := m.Execute(ctx, Request{})
		assert.ErrorContains(t, err, "failed to save records: disk full")
		assert.NotNil(t, result)
	})

	t.Run("failed pairs mark the job failed", func(t *testing.T) {
		kind := pipeline.ErrorKindExhausted
		result := completedResult()
		result.State = pipeline.StateFailed
		result.Summaries = []models.Summary{{Supplier: "Castorama", Category: models.CategoryPaint, ErrorKind: &kind}}

		scraper := new(MockScraper)
		scraper.On("Run", ctx, mock.Anything).Return(result, nil)

		m := NewManager(pipeline.Options{}, Dependencies{Scraper: scraper, Records: &fakeRecords{}})

		_, err := m.Execute(ctx, Request{})
		require.NoError(t, err)

		job := m.List()[0]
		assert.Equal(t, StatusFailed, job.Status)
		assert.Len(t, job.FailedPairs, 1)
	})

	t.Run("invalid request never reaches the scraper", func(t *testing.T) {
		scraper := new(MockScraper)
		m := NewManager(pipeline.Options{}, Dependencies{Scraper: scraper, Records: &fakeRecords{}})

		_, err := m.Execute(ctx, Request{Categories: []string{"garden"}})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		scraper.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})
}

func TestManager_Worker(t *testing.T) {
	scraper := new(MockScraper)
	scraper.On("Run", mock.Anything, mock.MatchedBy(func(o pipeline.Options) bool {
		return len(o.Suppliers) == 1 && o.Suppliers[0] == "castorama"
	})).Return(completedResult(), nil)

	m := NewManager(pipeline.Options{}, Dependencies{Scraper: scraper, Records: &fakeRecords{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.StartWorker(ctx)

	job, err := m.Submit(Request{Suppliers: []string{"castorama"}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	require.Eventually(t, func() bool {
		got, err := m.Get(job.ID)
		return err == nil && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = m.Submit(Request{Categories: []string{"garden"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestManager_HistoryIsBounded(t *testing.T) {
	m := NewManager(pipeline.Options{}, Dependencies{})
	for range historySize + 5 {
		m.remember(m.newJob(Request{}))
	}
	assert.Len(t, m.List(), historySize)
}
