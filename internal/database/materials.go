package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/maltedev/material-scraper/internal/events"
	"github.com/maltedev/material-scraper/internal/models"
	"github.com/maltedev/material-scraper/internal/pipeline"
)

// Only the latest observation per (supplier, product_url) is kept.
const upsertMaterialSQL = `
	INSERT INTO material_price (
		supplier, product_url, product_name, category, price, currency,
		brand, measurement_unit, pack_size, image_url, availability,
		description, sku, scraped_at, last_run_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (supplier, product_url) DO UPDATE SET
		product_name     = EXCLUDED.product_name,
		category         = EXCLUDED.category,
		price            = EXCLUDED.price,
		currency         = EXCLUDED.currency,
		brand            = COALESCE(EXCLUDED.brand, material_price.brand),
		measurement_unit = COALESCE(EXCLUDED.measurement_unit, material_price.measurement_unit),
		pack_size        = COALESCE(EXCLUDED.pack_size, material_price.pack_size),
		image_url        = COALESCE(EXCLUDED.image_url, material_price.image_url),
		availability     = EXCLUDED.availability,
		description      = COALESCE(EXCLUDED.description, material_price.description),
		sku              = COALESCE(EXCLUDED.sku, material_price.sku),
		scraped_at       = EXCLUDED.scraped_at,
		last_run_id      = EXCLUDED.last_run_id,
		updated_at       = CURRENT_TIMESTAMP`

// MaterialRepository stores run results and queues the run event in the
// same transaction.
type MaterialRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewMaterialRepository(db *DB, stream string) *MaterialRepository {
	if stream == "" {
		stream = events.DefaultStream
	}
	return &MaterialRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

// SaveRun upserts every record of result and inserts a MATERIALS_SCRAPED
// outbox event. Either everything is written or nothing is.
func (r *MaterialRepository) SaveRun(ctx context.Context, result *pipeline.Result, payload *events.MaterialsScrapedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range result.Records {
		args, err := upsertArgs(rec, result.RunID)
		if err != nil {
			return err
		}
		batch.Queue(upsertMaterialSQL, args...)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to upsert materials: %w", err)
			}
		}

		return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateType: events.AggregateRun,
			AggregateID:   result.RunID,
			EventType:     string(events.EventTypeMaterialsScraped),
			Payload:       data,
			TargetStream:  r.stream,
		})
	})
}

func upsertArgs(rec models.ProductRecord, runID string) ([]any, error) {
	scrapedAt, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid timestamp %q: %w", rec.ProductURL, rec.Timestamp, err)
	}

	return []any{
		rec.Supplier,
		rec.ProductURL,
		rec.ProductName,
		string(rec.Category),
		decimal.NewFromFloat(rec.Price),
		rec.Currency,
		rec.Brand,
		rec.MeasurementUnit,
		rec.PackSize,
		rec.ImageURL,
		rec.Availability,
		rec.Description,
		rec.SKU,
		scrapedAt,
		runID,
	}, nil
}
