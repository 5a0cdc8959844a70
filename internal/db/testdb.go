package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// NewTestDB returns a migrated database in the test's temp directory. A file
// is used instead of :memory: so the pool, WAL and concurrent claims behave
// as they do in production. It is closed when the test ends.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "najdeno-test.sqlite3"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := EnsureSchema(database); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return database
}
