package handlers

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/database"
)

// OpenTestDB creates a migrated SQLite database in a per-test temp dir. A file
// keeps WAL and busy timeout effective when the execution engine writes from
// its own goroutines.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "argus.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
