package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/starford/pinboard/internal/models"
)

// Opener creates the engine behind an Adapter.
type Opener func() (Engine, error)

// Adapter is the process-wide store shared by every card. The engine is
// opened on first use; a failed open is retried by the next call. Open is
// never run concurrently.
type Adapter struct {
	open Opener

	mu     sync.Mutex
	engine Engine
	closed bool
}

var _ Store = (*Adapter)(nil)

// NewAdapter returns an Adapter that opens its engine with open.
func NewAdapter(open Opener) *Adapter {
	return &Adapter{open: open}
}

// NewID generates a fresh card id.
func (a *Adapter) NewID() models.CardID {
	return NewID()
}

// NewID generates a ULID card id from crypto/rand entropy.
func NewID() models.CardID {
	return models.CardID(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

func (a *Adapter) acquire() (Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("store: adapter closed")
	}
	if a.engine != nil {
		return a.engine, nil
	}
	engine, err := a.open()
	if err != nil {
		return nil, fmt.Errorf("store: open engine: %w", err)
	}
	a.engine = engine
	return engine, nil
}

// Engine returns the underlying engine, opening it if needed.
func (a *Adapter) Engine() (Engine, error) {
	return a.acquire()
}

// Get implements Store.
func (a *Adapter) Get(ctx context.Context, id models.CardID) (models.CardProp, models.Revision, error) {
	e, err := a.acquire()
	if err != nil {
		return models.CardProp{}, "", err
	}
	return e.Get(ctx, id)
}

// Revision implements Store.
func (a *Adapter) Revision(ctx context.Context, id models.CardID) (models.Revision, error) {
	e, err := a.acquire()
	if err != nil {
		return "", err
	}
	return e.Revision(ctx, id)
}

// Put implements Store.
func (a *Adapter) Put(ctx context.Context, p models.CardProp, rev models.Revision) (models.Revision, error) {
	e, err := a.acquire()
	if err != nil {
		return "", err
	}
	return e.Put(ctx, p, rev)
}

// Delete implements Store.
func (a *Adapter) Delete(ctx context.Context, id models.CardID) error {
	e, err := a.acquire()
	if err != nil {
		return err
	}
	return e.Delete(ctx, id)
}

// ListIDs implements Store.
func (a *Adapter) ListIDs(ctx context.Context) ([]models.CardID, error) {
	e, err := a.acquire()
	if err != nil {
		return nil, err
	}
	return e.ListIDs(ctx)
}

// Summaries lists every stored card with a short content preview.
// Records that fail to load are skipped.
func (a *Adapter) Summaries(ctx context.Context) ([]models.CardSummary, error) {
	ids, err := a.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CardSummary, 0, len(ids))
	for _, id := range ids {
		p, rev, err := a.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, models.CardSummary{
			ID:         id,
			Revision:   rev,
			Preview:    preview(p.Content, 80),
			ModifiedAt: p.ModifiedAt,
		})
	}
	return out, nil
}

// Close closes the engine if it was opened. Later calls fail.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.engine == nil {
		return nil
	}
	err := a.engine.Close()
	a.engine = nil
	return err
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
