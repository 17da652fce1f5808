// Package storagetest opens migrated SQLite databases for tests.
package storagetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/bobuk/calblock/internal/storage"
)

// Open creates a fresh file-backed database under t.TempDir with the
// schema applied. The database is closed when the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "calblock.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.InitDB(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}
