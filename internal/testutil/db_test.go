package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTestDB_Queryable(t *testing.T) {
	db := NewTestDB(t)

	_, err := db.Exec(`CREATE TABLE probe (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO probe (name) VALUES (?)`, "athena")
	require.NoError(t, err)

	var name string
	err = db.QueryRow(`SELECT name FROM probe WHERE id = 1`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "athena", name)
}

func TestNewTestDB_IsolatedPerTest(t *testing.T) {
	// Each call opens its own private in-memory database.
	first := NewTestDB(t)
	second := NewTestDB(t)

	_, err := first.Exec(`CREATE TABLE only_here (id INTEGER)`)
	require.NoError(t, err)

	var count int
	err = second.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'only_here'`).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}
