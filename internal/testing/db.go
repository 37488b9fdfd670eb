// Package testing provides shared test helpers: database fixtures, a fake
// remote adapter and a controllable connectivity source.
package testing

import (
	"os"
	"testing"

	"github.com/aristath/folio/internal/database"
)

// NewTestDB creates a temporary SQLite database with its schema applied.
// Supported names: "mirror", "queue", "cache". The database is removed when
// the test finishes.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "test_"+name+"_*.db")
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileMirror
	switch name {
	case "queue":
		profile = database.ProfileQueue
	case "cache":
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}
