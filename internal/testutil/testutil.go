// Package testutil provides shared test helpers: temporary project roots,
// catalog databases, and a manually advanced clock.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/lcca/internal/index"
	"github.com/starford/lcca/internal/storage"
)

// TestDB creates a temporary SQLite catalog that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "lcca-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestRoot creates a temporary projects root.
func TestRoot(t *testing.T, opts ...storage.RootOption) *storage.Root {
	t.Helper()
	root, err := storage.NewRoot(t.TempDir(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return root
}
