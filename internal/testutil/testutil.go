// Package testutil provides shared test helpers: temporary stores and an
// in-memory Store with failure and blocking hooks.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/pinboard/internal/store"
)

// Logger returns a logger that discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestSQLite creates a temporary SQLite-backed adapter that is automatically cleaned up.
func TestSQLite(t *testing.T) *store.Adapter {
	t.Helper()
	dbFile, err := os.CreateTemp("", "pinboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	a := store.NewAdapter(func() (store.Engine, error) {
		return store.OpenSQLite(dbFile.Name(), Logger())
	})
	t.Cleanup(func() { a.Close() })
	return a
}

// TestFiles creates a temporary file-backed store.
func TestFiles(t *testing.T) (string, *store.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := store.NewFS(dir, Logger())
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// Ctx returns a background context cancelled at test cleanup.
func Ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
