package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

type EventType string

const (
	// EventTypeMaterialsScraped is published once per finished run.
	EventTypeMaterialsScraped EventType = "MATERIALS_SCRAPED"

	DefaultStream = "stream:material_events"
	AggregateRun  = "scrape_run"
	source        = "material-scraper"
)

// MaterialsScrapedPayload tells downstream consumers a new batch of records
// is available. Records themselves are not embedded.
type MaterialsScrapedPayload struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	Timestamp   time.Time        `json:"timestamp"`
	RunID       string           `json:"run_id"`
	State       string           `json:"state"`
	RecordCount int              `json:"record_count"`
	Categories  map[string]int   `json:"categories"`
	FailedPairs []models.Summary `json:"failed_pairs,omitempty"`
	OutputPath  string           `json:"output_path,omitempty"`
	Source      string           `json:"source"`
}

func NewMaterialsScraped(result *pipeline.Result, outputPath string) *MaterialsScrapedPayload {
	categories := make(map[string]int)
	for _, r := range result.Records {
		categories[string(r.Category)]++
	}

	return &MaterialsScrapedPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypeMaterialsScraped),
		Timestamp:   result.FinishedAt,
		RunID:       result.RunID,
		State:       string(result.State),
		RecordCount: len(result.Records),
		Categories:  categories,
		FailedPairs: result.Failed(),
		OutputPath:  outputPath,
		Source:      source,
	}
}

// Envelope is the layout of one stream entry, shared by the direct
// publisher and the outbox relay.
type Envelope struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	CreatedAt     time.Time
	Payload       json.RawMessage
	Metadata      map[string]any
}

// XAddArgs renders e for stream. The full envelope goes to the "data" field
// as JSON; the remaining fields allow filtering without decoding it.
func (e Envelope) XAddArgs(stream string) (*redis.XAddArgs, error) {
	var payload any
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	metadata := map[string]any{"source": source}
	for k, v := range e.Metadata {
		metadata[k] = v
	}

	data, err := json.Marshal(map[string]any{
		"id":             e.ID,
		"type":           e.Type,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID,
		"timestamp":      e.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata":       metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	return &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"data":           string(data),
			"type":           e.Type,
			"timestamp":      strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
			"original_id":    e.ID,
			"aggregate_id":   e.AggregateID,
			"aggregate_type": e.AggregateType,
			"event_type":     e.Type,
		},
	}, nil
}

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Publisher writes events straight to a Redis stream. Use it when no
// database outbox is configured.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func NewPublisher(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishMaterialsScraped returns the stream entry ID.
func (p *Publisher) PublishMaterialsScraped(ctx context.Context, payload *MaterialsScrapedPayload) (string, error) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	args, err := Envelope{
		ID:            payload.EventID,
		Type:          string(EventTypeMaterialsScraped),
		AggregateType: AggregateRun,
		AggregateID:   payload.RunID,
		CreatedAt:     payload.Timestamp,
		Payload:       data,
	}.XAddArgs(p.stream)
	if err != nil {
		return "", err
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("event published",
		"event_type", EventTypeMaterialsScraped,
		"run_id", payload.RunID,
		"records", payload.RecordCount,
		"stream", p.stream,
		"stream_id", id)

	return id, nil
}

func (p *Publisher) Close() error {
	return p.redis.Close()
}
