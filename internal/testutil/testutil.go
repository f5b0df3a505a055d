// Package testutil provides shared test helpers: a temporary rule store and
// a scripted protocol client.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/tgmonitor/internal/rulestore"
)

// TestDB creates a temporary SQLite rule store that is automatically cleaned up.
func TestDB(t *testing.T) *rulestore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tgmonitor-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := rulestore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
