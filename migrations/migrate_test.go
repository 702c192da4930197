package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	require.NoError(t, RunMigrations(db, zerolog.Nop()))
	require.NoError(t, RunMigrations(db, zerolog.Nop()), "second run is a no-op")

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM calls`).Scan(&n))
	require.Zero(t, n)
}
