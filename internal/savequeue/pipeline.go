// Package savequeue persists card snapshots through a per-card coalescing
// queue: at most one write in flight and at most one waiting, where a newer
// snapshot replaces the waiting one.
package savequeue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
)

// Writer is the subset of store.Store the pipeline needs.
type Writer interface {
	Revision(ctx context.Context, id models.CardID) (models.Revision, error)
	Put(ctx context.Context, p models.CardProp, rev models.Revision) (models.Revision, error)
}

// Result describes one completed write attempt.
type Result struct {
	Prop     models.CardProp
	Revision models.Revision
	Err      error
	// Idle is true when nothing was waiting behind this write.
	Idle bool
}

// Pipeline is the save queue of one card. It is safe for concurrent use.
type Pipeline struct {
	id      models.CardID
	store   Writer
	logger  *slog.Logger
	onSaved func(Result)

	mu       sync.Mutex
	pending  *models.CardProp
	inFlight bool
	lastErr  error
	idle     chan struct{} // closed while no write is in flight or pending
}

// New creates the pipeline of card id. onSaved, if non-nil, is called
// after every write attempt from the pipeline's worker goroutine.
func New(id models.CardID, store Writer, logger *slog.Logger, onSaved func(Result)) *Pipeline {
	idle := make(chan struct{})
	close(idle)
	return &Pipeline{
		id:      id,
		store:   store,
		logger:  logger,
		onSaved: onSaved,
		idle:    idle,
	}
}

// Enqueue schedules p for persistence. If a snapshot is already waiting it
// is replaced; only the newest one is ever written.
func (q *Pipeline) Enqueue(p models.CardProp) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending != nil {
		q.logger.Debug("save: coalesced pending snapshot", slog.String("id", string(q.id)))
	}
	q.pending = &p
	if q.inFlight {
		return
	}
	q.inFlight = true
	q.idle = make(chan struct{})
	go q.run()
}

// Busy reports whether a write is in flight or pending.
func (q *Pipeline) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Err returns the error of the most recent completed write.
func (q *Pipeline) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// state returns a channel closed once the pipeline is idle, and whether it
// already is.
func (q *Pipeline) state() (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle, !q.inFlight
}

func (q *Pipeline) run() {
	for {
		q.mu.Lock()
		if q.pending == nil {
			q.inFlight = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		p := *q.pending
		q.pending = nil
		q.mu.Unlock()

		rev, err := q.write(context.Background(), p)

		q.mu.Lock()
		q.lastErr = err
		idle := q.pending == nil
		q.mu.Unlock()

		q.report(p, rev, err)
		if q.onSaved != nil {
			q.onSaved(Result{Prop: p, Revision: rev, Err: err, Idle: idle})
		}
	}
}

// write reads the current revision and puts p against it.
func (q *Pipeline) write(ctx context.Context, p models.CardProp) (models.Revision, error) {
	rev, err := q.store.Revision(ctx, p.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		rev = ""
	default:
		return "", err
	}
	return q.store.Put(ctx, p, rev)
}

func (q *Pipeline) report(p models.CardProp, rev models.Revision, err error) {
	switch {
	case err == nil:
		q.logger.Debug("save: written",
			slog.String("id", string(p.ID)),
			slog.String("rev", string(rev)))
	case errors.Is(err, apperr.ErrConflict):
		q.logger.Warn("save: revision conflict, snapshot abandoned",
			slog.String("id", string(p.ID)),
			slog.String("error", err.Error()))
	default:
		q.logger.Error("save: write failed",
			slog.String("id", string(p.ID)),
			slog.String("error", err.Error()))
	}
}
