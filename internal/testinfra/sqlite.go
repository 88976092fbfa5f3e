package testinfra

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/newsletter/internal/migrations"
)

// SQLiteDSN returns a DSN for a file database at path. Transactions start with
// BEGIN IMMEDIATE, so a transaction holds the write lock from its first
// statement and concurrent claimers queue on the busy timeout instead of
// failing on lock upgrade.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on", path)
}

// NewSQLiteDB opens a migrated sqlite database in a temporary directory.
// The database is closed when the test ends.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", SQLiteDSN(filepath.Join(t.TempDir(), "newsletter.db")))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, db.Ping())
	require.NoError(t, migrations.Up(db, "sqlite"))

	return db
}

// CountRows returns the number of rows in table.
func CountRows(t testing.TB, db *sql.DB, table string) int {
	t.Helper()

	var n int
	// nolint:gosec
	err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	require.NoError(t, err)
	return n
}
