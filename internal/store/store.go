// Package store is the document store adapter: every card is one record
// keyed by its id and guarded by a revision token.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/pinboard/internal/models"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFiles  = "files"
)

// Store is the interface consumers depend on. All methods may fail with an
// error matching apperr.ErrTransport in addition to the documented ones.
type Store interface {
	// Get returns the record for id, or apperr.ErrNotFound. A record that
	// exists but does not decode fails with *apperr.CorruptError.
	Get(ctx context.Context, id models.CardID) (models.CardProp, models.Revision, error)
	// Revision returns the current revision of id, or apperr.ErrNotFound.
	// It succeeds for corrupt records so that a Put can replace them.
	Revision(ctx context.Context, id models.CardID) (models.Revision, error)
	// Put writes p. rev must be the record's current revision, or empty when
	// the record does not exist yet; otherwise a *apperr.ConflictError is
	// returned.
	Put(ctx context.Context, p models.CardProp, rev models.Revision) (models.Revision, error)
	// Delete removes the record for id, or returns apperr.ErrNotFound.
	Delete(ctx context.Context, id models.CardID) error
	// ListIDs returns the ids of every stored record.
	ListIDs(ctx context.Context) ([]models.CardID, error)
}

// Engine is a Store that owns an underlying storage handle.
type Engine interface {
	Store
	Close() error
}

// Open opens the named backend at path.
func Open(backend, path string, logger *slog.Logger) (Engine, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path, logger)
	case BackendFiles:
		return NewFS(path, logger)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

// logMissing reports record fields that were absent on read and defaulted.
func logMissing(logger *slog.Logger, id models.CardID, missing []string) {
	if len(missing) == 0 {
		return
	}
	logger.Warn("store: record fields missing, defaulted",
		slog.String("id", string(id)),
		slog.Any("fields", missing))
}
