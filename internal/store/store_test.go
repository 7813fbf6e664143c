package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	f, err := os.CreateTemp("", "pinboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := OpenSQLite(f.Name(), quietLogger())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testFS(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

// engines runs fn once per storage engine.
func engines(t *testing.T, fn func(t *testing.T, e Engine)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, testSQLite(t)) })
	t.Run("files", func(t *testing.T) { fn(t, testFS(t)) })
}

func prop(id models.CardID, content string) models.CardProp {
	p := models.NewCardProp(id, time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	p.Content = content
	return p
}

func TestPutAndGet(t *testing.T) {
	engines(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		p := prop("card1", "hello")
		p.Geometry = models.Geometry{X: 1, Y: 2, Width: 400, Height: 300}

		rev, err := e.Put(ctx, p, "")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if rev == "" {
			t.Fatal("empty revision")
		}
		got, gotRev, err := e.Get(ctx, "card1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if gotRev != rev {
			t.Errorf("rev = %q, want %q", gotRev, rev)
		}
		if got.Content != "hello" || got.Geometry != p.Geometry || got.Style != p.Style {
			t.Errorf("got %+v", got)
		}
		if !got.CreatedAt.Equal(p.CreatedAt) {
			t.Errorf("createdAt = %v", got.CreatedAt)
		}
	})
}

func TestGetNotFound(t *testing.T) {
	engines(t, func(t *testing.T, e Engine) {
		_, _, err := e.Get(context.Background(), "missing")
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestPutRevisionChecks(t *testing.T) {
	engines(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		rev1, err := e.Put(ctx, prop("c", "v1"), "")
		if err != nil {
			t.Fatalf("Put v1: %v", err)
		}
		rev2, err := e.Put(ctx, prop("c", "v2"), rev1)
		if err != nil {
			t.Fatalf("Put v2: %v", err)
		}
		if rev2 == rev1 {
			t.Fatal("revision did not advance")
		}

		// Stale revision.
		_, err = e.Put(ctx, prop("c", "v3"), rev1)
		var conflict *apperr.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("stale put err = %v, want ConflictError", err)
		}
		if conflict.CurrentRevision != string(rev2) {
			t.Errorf("current revision = %q, want %q", conflict.CurrentRevision, rev2)
		}

		// Create over an existing record.
		if _, err := e.Put(ctx, prop("c", "v4"), ""); !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("blind create err = %v, want conflict", err)
		}

		// Update of a record that does not exist.
		if _, err := e.Put(ctx, prop("nope", "x"), rev2); !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("update of missing err = %v, want conflict", err)
		}

		got, _, _ := e.Get(ctx, "c")
		if got.Content != "v2" {
			t.Errorf("content = %q after conflicts, want v2", got.Content)
		}
	})
}

func TestDeleteAndList(t *testing.T) {
	engines(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		for _, id := range []models.CardID{"a", "b", "c"} {
			if _, err := e.Put(ctx, prop(id, string(id)), ""); err != nil {
				t.Fatalf("Put %s: %v", id, err)
			}
		}
		if err := e.Delete(ctx, "b"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := e.Delete(ctx, "b"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("second delete err = %v, want ErrNotFound", err)
		}
		ids, err := e.ListIDs(ctx)
		if err != nil {
			t.Fatalf("ListIDs: %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("ids = %v, want 2", ids)
		}
		for _, id := range ids {
			if id == "b" {
				t.Error("deleted id still listed")
			}
		}
	})
}

func TestSQLiteMissingFieldsDefaulted(t *testing.T) {
	db := testSQLite(t)
	_, err := db.conn.Exec(`INSERT INTO cards (id, rev, doc) VALUES ('old', '1-x', '{"data":"legacy"}')`)
	if err != nil {
		t.Fatal(err)
	}
	p, rev, err := db.Get(context.Background(), "old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rev != "1-x" || p.ID != "old" || p.Content != "legacy" {
		t.Errorf("got %+v rev %q", p, rev)
	}
	if p.Geometry != models.DefaultGeometry() {
		t.Errorf("geometry = %+v, want default", p.Geometry)
	}
}

func TestFSTraversalBlocked(t *testing.T) {
	fs := testFS(t)
	ctx := context.Background()
	for _, id := range []models.CardID{"../escape", "a/b", "", "..", tmpPrefix + "x"} {
		if _, _, err := fs.Get(ctx, id); err == nil || errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want validation error", id, err)
		}
		if _, err := fs.Put(ctx, prop(id, "x"), ""); err == nil {
			t.Errorf("Put(%q) should fail", id)
		}
	}
}

func TestFSIgnoresForeignFiles(t *testing.T) {
	fs := testFS(t)
	_ = os.WriteFile(filepath.Join(fs.Root(), "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(fs.Root(), tmpPrefix+"123"), []byte("x"), 0o644)
	_ = os.Mkdir(filepath.Join(fs.Root(), "sub.md"), 0o755)
	if _, err := fs.Put(context.Background(), prop("real", "x"), ""); err != nil {
		t.Fatal(err)
	}
	ids, err := fs.ListIDs(context.Background())
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "real" {
		t.Errorf("ids = %v", ids)
	}
}

func TestFSNoLeftoverTempFiles(t *testing.T) {
	fs := testFS(t)
	ctx := context.Background()
	rev, _ := fs.Put(ctx, prop("atomic", "one"), "")
	if _, err := fs.Put(ctx, prop("atomic", "two"), rev); err != nil {
		t.Fatalf("Put: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(fs.Root(), tmpPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("postgres", "x", quietLogger()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRevisionMatchesPut(t *testing.T) {
	engines(t, func(t *testing.T, e Engine) {
		ctx := context.Background()
		if _, err := e.Revision(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Revision(missing) err = %v", err)
		}
		rev, err := e.Put(ctx, prop("c", "v1"), "")
		if err != nil {
			t.Fatal(err)
		}
		got, err := e.Revision(ctx, "c")
		if err != nil || got != rev {
			t.Errorf("Revision = %q, %v; want %q", got, err, rev)
		}
	})
}

func TestFSCorruptRecordIsReplaced(t *testing.T) {
	fs := testFS(t)
	ctx := context.Background()
	path := filepath.Join(fs.Root(), "bad"+cardExt)
	if err := os.WriteFile(path, []byte("---\nx: [unterminated\n---\nold"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := fs.Get(ctx, "bad"); !errors.Is(err, apperr.ErrCorrupt) {
		t.Fatalf("Get err = %v, want corrupt", err)
	}
	rev, err := fs.Revision(ctx, "bad")
	if err != nil || rev != "" {
		t.Fatalf("Revision = %q, %v", rev, err)
	}
	if _, err := fs.Put(ctx, prop("bad", "new text"), rev); err != nil {
		t.Fatalf("Put over corrupt file: %v", err)
	}
	got, _, err := fs.Get(ctx, "bad")
	if err != nil || got.Content != "new text" {
		t.Errorf("after put: %+v, %v", got, err)
	}
}

func TestFSCorruptRecordKeepsScannedRevision(t *testing.T) {
	fs := testFS(t)
	ctx := context.Background()
	path := filepath.Join(fs.Root(), "bad"+cardExt)
	if err := os.WriteFile(path, []byte("---\n_rev: 4-abc\nx: [unterminated\n---\nold"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Put(ctx, prop("bad", "x"), ""); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("blind put err = %v, want conflict", err)
	}
	rev, err := fs.Revision(ctx, "bad")
	if err != nil || rev != "4-abc" {
		t.Fatalf("Revision = %q, %v", rev, err)
	}
	next, err := fs.Put(ctx, prop("bad", "x"), rev)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(string(next), "5-") {
		t.Errorf("next revision = %q, want generation 5", next)
	}
}

func TestSQLiteCorruptRecordIsReplaced(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()
	if _, err := db.conn.Exec(`INSERT INTO cards (id, rev, doc) VALUES ('bad', '1-x', '{not json')`); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.Get(ctx, "bad"); !errors.Is(err, apperr.ErrCorrupt) {
		t.Fatalf("Get err = %v, want corrupt", err)
	}
	rev, err := db.Revision(ctx, "bad")
	if err != nil || rev != "1-x" {
		t.Fatalf("Revision = %q, %v", rev, err)
	}
	if _, err := db.Put(ctx, prop("bad", "new text"), rev); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, _, err := db.Get(ctx, "bad")
	if err != nil || got.Content != "new text" {
		t.Errorf("after put: %+v, %v", got, err)
	}
}
