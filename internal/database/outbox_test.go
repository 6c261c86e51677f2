package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/material-scraper/internal/events"
)

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{retryCount: 0, want: time.Second},
		{retryCount: 1, want: 2 * time.Second},
		{retryCount: 4, want: 16 * time.Second},
		{retryCount: 8, want: 256 * time.Second},
		{retryCount: 9, want: 5 * time.Minute},
		{retryCount: 40, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		got := nextRetryTime(now, tt.retryCount)
		assert.Equal(t, tt.want, got.Sub(now), "retry %d", tt.retryCount)
	}
}

func TestOutboxEvent_Envelope(t *testing.T) {
	event := scrapedEvent("run-9")
	event.RetryCount = 3

	env := event.Envelope()
	assert.Equal(t, event.ID.String(), env.ID)
	assert.Equal(t, "MATERIALS_SCRAPED", env.Type)
	assert.Equal(t, "run-9", env.AggregateID)
	assert.Equal(t, 3, env.Metadata["retry_count"])
	assert.Equal(t, events.DefaultStream, env.Metadata["target_stream"])
}

func TestOutboxRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	insert := func(t *testing.T, runID string) *OutboxEvent {
		t.Helper()
		event := &OutboxEvent{
			AggregateType: events.AggregateRun,
			AggregateID:   runID,
			EventType:     string(events.EventTypeMaterialsScraped),
			Payload:       json.RawMessage(`{"run_id":"` + runID + `"}`),
		}
		require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		}))
		return event
	}

	t.Run("insert fills defaults", func(t *testing.T) {
		event := insert(t, "run-defaults")

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, events.DefaultStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rolled back insert leaves nothing behind", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: events.AggregateRun,
			AggregateID:   "run-rollback",
			EventType:     string(events.EventTypeMaterialsScraped),
			Payload:       json.RawMessage(`{}`),
		}
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return errors.New("abort")
		})
		require.Error(t, err)

		var count int
		require.NoError(t, db.QueryRow(ctx,
			`SELECT COUNT(*) FROM outbox_event WHERE id = $1`, event.ID).Scan(&count))
		assert.Zero(t, count)
	})

	t.Run("pending events come back oldest first", func(t *testing.T) {
		_, err := db.Exec(ctx, `TRUNCATE outbox_event`)
		require.NoError(t, err)

		first := insert(t, "run-a")
		second := insert(t, "run-b")

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, first.ID, pending[0].ID)
		assert.Equal(t, second.ID, pending[1].ID)

		limited, err := repo.GetPending(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("processed events are no longer pending", func(t *testing.T) {
		_, err := db.Exec(ctx, `TRUNCATE outbox_event`)
		require.NoError(t, err)
		event := insert(t, "run-done")

		require.NoError(t, repo.MarkProcessed(ctx, event.ID))

		count, err := repo.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	})

	t.Run("failures back off then dead-letter", func(t *testing.T) {
		_, err := db.Exec(ctx, `TRUNCATE outbox_event`)
		require.NoError(t, err)
		event := insert(t, "run-flaky")

		require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))

		var (
			status  string
			retries int
			message string
		)
		row := db.QueryRow(ctx,
			`SELECT status, retry_count, error_message FROM outbox_event WHERE id = $1`, event.ID)
		require.NoError(t, row.Scan(&status, &retries, &message))
		assert.Equal(t, OutboxStatusFailed, status)
		assert.Equal(t, 1, retries)
		assert.Equal(t, "redis down", message)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending, "retry is scheduled in the future")

		for range MaxRetryCount - 1 {
			require.NoError(t, repo.MarkFailed(ctx, event.ID, errors.New("redis down")))
		}
		require.NoError(t, db.QueryRow(ctx,
			`SELECT status FROM outbox_event WHERE id = $1`, event.ID).Scan(&status))
		assert.Equal(t, OutboxStatusDeadLetter, status)
	})
}
