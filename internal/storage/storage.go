package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

var ErrNoData = errors.New("no scraped data available")

// RunSummary is the run metadata written next to the record file.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	State      pipeline.State   `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Count      int              `json:"count"`
	Summaries  []models.Summary `json:"summaries"`
}

// Filter narrows Records. Zero values match everything.
type Filter struct {
	Category models.Category
	Supplier string
}

func (f Filter) match(r models.ProductRecord) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Supplier != "" && SupplierKey(r.Supplier) != SupplierKey(f.Supplier) {
		return false
	}
	return true
}

// SupplierKey folds "Leroy Merlin", "leroy-merlin" and "leroy_merlin" to
// the same key.
func SupplierKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// RecordStore keeps the latest run's records as a JSON array on disk and in
// memory. Writes go through a temp file and a rename.
type RecordStore struct {
	mu          sync.RWMutex
	path        string
	summaryPath string
	records     []models.ProductRecord
	summary     *RunSummary
}

func NewRecordStore(path string) (*RecordStore, error) {
	s := &RecordStore{
		path:        path,
		summaryPath: strings.TrimSuffix(path, filepath.Ext(path)) + "_summary.json",
	}

	if err := s.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return s, nil
}

func (s *RecordStore) Path() string {
	return s.path
}

// Save stores result. A full run replaces the stored set; a partial run only
// replaces the (supplier, category) pairs it covered and keeps the rest.
func (s *RecordStore) Save(result *pipeline.Result) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := result.Records
	summaries := result.Summaries
	if result.Partial && s.records != nil {
		records, summaries = s.merge(result)
	}
	if records == nil {
		records = []models.ProductRecord{}
	}

	summary := &RunSummary{
		RunID:      result.RunID,
		State:      result.State,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Count:      len(records),
		Summaries:  summaries,
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := writeJSON(s.path, records); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}
	if err := writeJSON(s.summaryPath, summary); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}

	s.records = records
	s.summary = summary
	return nil
}

// merge overlays a partial run on the stored set. Stored records of pairs the
// run covered are dropped, as are stored copies of products the run found
// again. Callers hold s.mu.
func (s *RecordStore) merge(result *pipeline.Result) ([]models.ProductRecord, []models.Summary) {
	covered := make(map[string]struct{}, len(result.Summaries))
	for _, sum := range result.Summaries {
		covered[pairKey(sum.Supplier, sum.Category)] = struct{}{}
	}

	fresh := make(map[string]struct{}, len(result.Records))
	for _, r := range result.Records {
		fresh[r.Key()] = struct{}{}
	}

	records := make([]models.ProductRecord, 0, len(s.records)+len(result.Records))
	for _, r := range s.records {
		if _, ok := covered[pairKey(r.Supplier, r.Category)]; ok {
			continue
		}
		if _, ok := fresh[r.Key()]; ok {
			continue
		}
		records = append(records, r)
	}
	records = append(records, result.Records...)

	var summaries []models.Summary
	if s.summary != nil {
		for _, sum := range s.summary.Summaries {
			if _, ok := covered[pairKey(sum.Supplier, sum.Category)]; !ok {
				summaries = append(summaries, sum)
			}
		}
	}
	summaries = append(summaries, result.Summaries...)

	return records, summaries
}

func pairKey(supplier string, c models.Category) string {
	return SupplierKey(supplier) + "/" + string(c)
}

// Records returns the stored records matching f in stored order.
func (s *RecordStore) Records(f Filter) ([]models.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.records == nil {
		return nil, ErrNoData
	}

	out := make([]models.ProductRecord, 0, len(s.records))
	for _, r := range s.records {
		if f.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RecordStore) Summary() (RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.summary == nil {
		return RunSummary{}, false
	}
	return *s.summary, true
}

// Stats counts stored records per category plus a "total" entry.
func (s *RecordStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)
	for _, r := range s.records {
		stats[string(r.Category)]++
	}
	stats["total"] = len(s.records)
	return stats
}

// Load reads the record file and, when present, its summary.
func (s *RecordStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var records []models.ProductRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if records == nil {
		records = []models.ProductRecord{}
	}

	var summary *RunSummary
	if data, err := os.ReadFile(s.summaryPath); err == nil {
		summary = &RunSummary{}
		if err := json.Unmarshal(data, summary); err != nil {
			return fmt.Errorf("failed to decode %s: %w", s.summaryPath, err)
		}
	}

	s.mu.Lock()
	s.records = records
	s.summary = summary
	s.mu.Unlock()
	return nil
}

// writeJSON writes v indented with non-ASCII and HTML characters kept as is.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, buf.Bytes(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, path)
}
