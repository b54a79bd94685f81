// Package dbtest opens a migrated PostgreSQL database for store tests.
// Tests are skipped unless CHATON_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/primal-host/chaton/internal/database"
	"github.com/stretchr/testify/require"
)

// EnvURL names the environment variable holding the test database URL.
const EnvURL = "CHATON_TEST_DATABASE_URL"

// Open returns a database with every table emptied. The pool is closed
// when the test finishes.
func Open(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set; skipping PostgreSQL test", EnvURL)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Pool.Exec(ctx,
		`TRUNCATE messages, comments, posts, follows, sessions, users`)
	require.NoError(t, err)
	return db
}
