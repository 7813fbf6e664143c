package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
)

// Change kinds passed to a ChangeCallback.
const (
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)

// ChangeCallback is called for each card file modified by someone other
// than this process.
type ChangeCallback func(kind string, id models.CardID)

// Watch runs an fsnotify watcher on the card directory until ctx is
// cancelled. Writes and deletes performed through f are filtered out so
// only external modifications reach cb.
func (f *FS) Watch(ctx context.Context, logger *slog.Logger, cb ChangeCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(f.root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", f.root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			id, isCard := f.idFromPath(ev.Name)
			if !isCard {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				doc, readErr := f.read(id, ev.Name)
				if errors.Is(readErr, apperr.ErrNotFound) {
					continue
				}
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("id", string(id)), slog.String("error", readErr.Error()))
					continue
				}
				if f.ownRevision(id, models.Revision(doc.Rev)) {
					continue
				}
				logger.Debug("watcher: external update", slog.String("id", string(id)), slog.String("rev", doc.Rev))
				if cb != nil {
					cb(ChangeUpdated, id)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if !f.tracked(id) {
					continue
				}
				logger.Debug("watcher: external delete", slog.String("id", string(id)))
				if cb != nil {
					cb(ChangeDeleted, id)
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
