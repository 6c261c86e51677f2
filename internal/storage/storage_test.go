package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

func sampleResult() *pipeline.Result {
	brand := "ARTENS"
	kind := "exhausted"
	return &pipeline.Result{
		RunID:      "run-1",
		State:      pipeline.StateFailed,
		StartedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC),
		Records: []models.ProductRecord{
			{
				ProductName: "Carrelage sol grès cérame",
				Category:    models.CategoryTiles,
				Price:       24.9,
				Currency:    "EUR",
				ProductURL:  "https://www.leroymerlin.fr/produits/carrelage-1.html",
				Supplier:    "Leroy Merlin",
				Timestamp:   "2025-03-01T10:01:00Z",
				Brand:       &brand,
			},
			{
				ProductName: "Peinture blanche",
				Category:    models.CategoryPaint,
				Price:       39,
				Currency:    "EUR",
				ProductURL:  "https://www.castorama.fr/peinture-1.prd",
				Supplier:    "Castorama",
				Timestamp:   "2025-03-01T10:02:00Z",
			},
		},
		Summaries: []models.Summary{
			{Supplier: "Leroy Merlin", Category: models.CategoryTiles, SuccessCount: 1},
			{Supplier: "Castorama", Category: models.CategoryTiles, ErrorKind: &kind},
		},
	}
}

func TestRecordStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "materials.json")

	store, err := NewRecordStore(path)
	require.NoError(t, err)

	_, err = store.Records(Filter{})
	assert.ErrorIs(t, err, ErrNoData)

	require.NoError(t, store.Save(sampleResult()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "grès cérame")
	assert.NotContains(t, string(raw), "measurement_unit")

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "ARTENS", decoded[0]["brand"])
	_, hasBrand := decoded[1]["brand"]
	assert.False(t, hasBrand)

	reloaded, err := NewRecordStore(path)
	require.NoError(t, err)

	records, err := reloaded.Records(Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	summary, ok := reloaded.Summary()
	require.True(t, ok)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Count)
	assert.Len(t, summary.Summaries, 2)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRecordStore_Filters(t *testing.T) {
	store, err := NewRecordStore(filepath.Join(t.TempDir(), "materials.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(sampleResult()))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 2},
		{name: "category", filter: Filter{Category: models.CategoryPaint}, want: 1},
		{name: "supplier id", filter: Filter{Supplier: "leroy_merlin"}, want: 1},
		{name: "supplier display name", filter: Filter{Supplier: "Leroy Merlin"}, want: 1},
		{name: "both", filter: Filter{Category: models.CategoryPaint, Supplier: "leroy-merlin"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.Records(tt.filter)
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}

	stats := store.Stats()
	assert.Equal(t, 2, stats["total"])
	assert.Equal(t, 1, stats["tiles"])
}

func TestRecordStore_PartialRun(t *testing.T) {
	tilesURL := "https://www.leroymerlin.fr/produits/carrelage-2.html"

	partial := func() *pipeline.Result {
		return &pipeline.Result{
			RunID:   "run-2",
			State:   pipeline.StateCompleted,
			Partial: true,
			Records: []models.ProductRecord{{
				ProductName: "Carrelage mural blanc",
				Category:    models.CategoryTiles,
				Price:       19.5,
				Currency:    "EUR",
				ProductURL:  tilesURL,
				Supplier:    "Leroy Merlin",
				Timestamp:   "2025-03-02T09:00:00Z",
			}},
			Summaries: []models.Summary{
				{Supplier: "Leroy Merlin", Category: models.CategoryTiles, SuccessCount: 1},
			},
		}
	}

	t.Run("keeps pairs the run did not cover", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "materials.json")
		store, err := NewRecordStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Save(sampleResult()))

		require.NoError(t, store.Save(partial()))

		records, err := store.Records(Filter{})
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "Peinture blanche", records[0].ProductName)
		assert.Equal(t, tilesURL, records[1].ProductURL)

		paint, err := store.Records(Filter{Category: models.CategoryPaint})
		require.NoError(t, err)
		assert.Len(t, paint, 1)

		summary, ok := store.Summary()
		require.True(t, ok)
		assert.Equal(t, "run-2", summary.RunID)
		assert.Equal(t, 2, summary.Count)
		require.Len(t, summary.Summaries, 2)
		assert.Equal(t, "Castorama", summary.Summaries[0].Supplier)
		assert.Equal(t, 1, summary.Summaries[1].SuccessCount)

		reloaded, err := NewRecordStore(path)
		require.NoError(t, err)
		all, err := reloaded.Records(Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("product found again replaces its stored copy", func(t *testing.T) {
		store, err := NewRecordStore(filepath.Join(t.TempDir(), "materials.json"))
		require.NoError(t, err)
		require.NoError(t, store.Save(sampleResult()))

		moved := partial()
		moved.Records[0].ProductURL = "https://www.castorama.fr/peinture-1.prd"
		moved.Records[0].Supplier = "Castorama"
		moved.Summaries[0].Supplier = "Castorama"

		require.NoError(t, store.Save(moved))

		records, err := store.Records(Filter{Supplier: "castorama"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, models.CategoryTiles, records[0].Category)
	})

	t.Run("full run replaces everything", func(t *testing.T) {
		store, err := NewRecordStore(filepath.Join(t.TempDir(), "materials.json"))
		require.NoError(t, err)
		require.NoError(t, store.Save(sampleResult()))

		full := partial()
		full.Partial = false
		require.NoError(t, store.Save(full))

		records, err := store.Records(Filter{})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestRecordStore_EmptyRunSavesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	store, err := NewRecordStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(&pipeline.Result{RunID: "empty", State: pipeline.StateCompleted}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(raw))

	records, err := store.Records(Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNewRecordStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "materials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewRecordStore(path)
	assert.Error(t, err)
}
