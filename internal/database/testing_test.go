package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// both tables. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.EnsureSchema(ctx))

	_, err = db.Exec(ctx, "TRUNCATE products, outbox_event RESTART IDENTITY")
	require.NoError(t, err)

	return db
}
