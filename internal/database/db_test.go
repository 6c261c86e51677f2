package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL and applies the schema on a
// clean slate. Tests using it are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Exec(ctx, `TRUNCATE material_price, outbox_event`)
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}
