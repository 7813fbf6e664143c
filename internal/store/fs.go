package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/checksum"
	"github.com/starford/pinboard/internal/document"
	"github.com/starford/pinboard/internal/models"
)

const (
	cardExt   = ".md"
	tmpPrefix = ".pinboard-tmp-"
)

// FS stores one Markdown file per card under a root directory.
type FS struct {
	root   string // absolute path to the card directory
	logger *slog.Logger

	mu sync.Mutex
	// written remembers the last revision this process wrote per id so the
	// watcher can tell its own writes from external ones.
	written map[models.CardID]models.Revision
}

var _ Engine = (*FS)(nil)

// NewFS creates a file engine rooted at dir, creating the directory if needed.
func NewFS(dir string, logger *slog.Logger) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("store: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: root is not a directory: %s", abs)
	}
	return &FS{root: abs, logger: logger, written: make(map[models.CardID]models.Revision)}, nil
}

// Root returns the absolute card directory.
func (f *FS) Root() string {
	return f.root
}

// Close is a no-op; the file engine holds no open handles.
func (f *FS) Close() error {
	return nil
}

// safePath maps an id to its file and rejects ids that would escape root.
func (f *FS) safePath(id models.CardID) (string, error) {
	s := string(id)
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." || strings.HasPrefix(s, tmpPrefix) {
		return "", fmt.Errorf("store: invalid card id %q", s)
	}
	abs := filepath.Join(f.root, s+cardExt)
	if filepath.Dir(abs) != f.root {
		return "", fmt.Errorf("store: card id escapes root: %q", s)
	}
	return abs, nil
}

// idFromPath is the inverse of safePath; ok is false for files that are not cards.
func (f *FS) idFromPath(p string) (models.CardID, bool) {
	name := filepath.Base(p)
	if filepath.Dir(p) != f.root || !strings.HasSuffix(name, cardExt) || strings.HasPrefix(name, tmpPrefix) {
		return "", false
	}
	return models.CardID(strings.TrimSuffix(name, cardExt)), true
}

// Get reads and decodes the card file for id.
func (f *FS) Get(_ context.Context, id models.CardID) (models.CardProp, models.Revision, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return models.CardProp{}, "", err
	}
	doc, err := f.read(id, abs)
	if err != nil {
		return models.CardProp{}, "", err
	}
	doc.ID = string(id)
	prop, missing := doc.ToProp(time.Now())
	logMissing(f.logger, id, missing)
	return prop, models.Revision(doc.Rev), nil
}

func (f *FS) load(abs string) ([]byte, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, apperr.Transport("read", err)
	}
	return data, nil
}

func (f *FS) read(id models.CardID, abs string) (document.Document, error) {
	data, err := f.load(abs)
	if err != nil {
		return document.Document{}, err
	}
	doc, err := document.UnmarshalMarkdown(data)
	if err != nil {
		return document.Document{}, &apperr.CorruptError{ID: string(id), Err: err}
	}
	return doc, nil
}

// revision returns the _rev of the file at abs. An undecodable file yields
// whatever _rev line its frontmatter still carries, possibly "".
func (f *FS) revision(abs string) (string, error) {
	data, err := f.load(abs)
	if err != nil {
		return "", err
	}
	if doc, err := document.UnmarshalMarkdown(data); err == nil {
		return doc.Rev, nil
	}
	return document.ScanRevision(data), nil
}

// Revision returns the current revision of id without decoding the card.
func (f *FS) Revision(_ context.Context, id models.CardID) (models.Revision, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return "", err
	}
	rev, err := f.revision(abs)
	return models.Revision(rev), err
}

// Put checks rev against the revision in the existing file and writes
// atomically. A file that no longer decodes is replaced.
func (f *FS) Put(_ context.Context, p models.CardProp, rev models.Revision) (models.Revision, error) {
	abs, err := f.safePath(p.ID)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.revision(abs)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	if current != string(rev) {
		return "", &apperr.ConflictError{ID: string(p.ID), ExpectedRevision: string(rev), CurrentRevision: current}
	}

	doc := document.FromProp(p, "")
	digestBody, err := document.MarshalMarkdown(doc)
	if err != nil {
		return "", err
	}
	doc.Rev = checksum.NextRevision(current, digestBody)
	body, err := document.MarshalMarkdown(doc)
	if err != nil {
		return "", err
	}
	if err := f.writeAtomic(abs, body); err != nil {
		return "", apperr.Transport("put", err)
	}
	f.written[p.ID] = models.Revision(doc.Rev)
	return models.Revision(doc.Rev), nil
}

// writeAtomic writes content: tmp file → fsync → rename.
func (f *FS) writeAtomic(abs string, content []byte) error {
	tmp, err := os.CreateTemp(f.root, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes the card file for id.
func (f *FS) Delete(_ context.Context, id models.CardID) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.written, id)
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return apperr.Transport("delete", err)
	}
	return nil
}

// ListIDs returns the ids of every card file, sorted.
func (f *FS) ListIDs(_ context.Context) ([]models.CardID, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, apperr.Transport("list", err)
	}
	var out []models.CardID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := f.idFromPath(filepath.Join(f.root, e.Name())); ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ownRevision reports whether rev is the last revision this process wrote for id.
func (f *FS) ownRevision(id models.CardID, rev models.Revision) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	known, ok := f.written[id]
	return ok && known == rev
}

// tracked reports whether this process has written id and not deleted it.
func (f *FS) tracked(id models.CardID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.written[id]
	return ok
}
