// Package testutil provides shared fixtures for store-backed tests: an
// in-memory SQLite database and a fluent builder for component fleets.
package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/stretchr/testify/require"
)

// NewTestDB creates an in-memory SQLite database, closed when the test ends.
// The pool is pinned to one connection: every connection opens its own
// private in-memory database, so a second connection would see empty tables.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
