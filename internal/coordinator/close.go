package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/savequeue"
	"github.com/starford/pinboard/internal/window"
)

// ConfirmFunc is asked whether to close a card whose final save failed.
// It returns true to close anyway.
type ConfirmFunc func(ctx context.Context, saveErr error) bool

// CloseCard closes card id on user request.
//
// A card without content is deleted from the store once its pending saves
// are flushed. Otherwise its prop is saved and the window is torn down after
// the save is acknowledged. A card whose stored record is already current
// is not written again. When the save fails, confirm decides whether to
// close anyway; if it declines the card returns to the state the close
// started from and the save error is returned. With a nil confirm the card
// is closed and the save error returned.
func (c *Coordinator) CloseCard(ctx context.Context, id models.CardID, confirm ConfirmFunc) error {
	e, err := c.acquire(id)
	if err != nil {
		return err
	}
	defer e.op.Unlock()

	var (
		cd         card.Card
		wasEditing bool
	)
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		wasEditing = k.State == card.EditingOpen
		if err := k.Transition(card.Closing); err != nil {
			return err
		}
		cd = *k
		return nil
	}); err != nil {
		return err
	}

	// Content still in an open editor has not reached the prop yet.
	changed := cd.Revision == "" || e.queue.Err() != nil
	if wasEditing {
		content, err := cd.Host.GetContent(ctx)
		if err != nil {
			c.logger.Warn("card: read editor on close failed",
				slog.String("id", string(id)),
				slog.String("error", err.Error()))
			content = cd.Prop.Content
		}
		if content != cd.Prop.Content {
			changed = true
		}
		cd.Prop.Content = content
		_ = c.mutate(e, func(k *card.Card, _ *registry) error {
			k.Prop.Content = content
			k.RenderOffset = 0
			return nil
		})
		_ = cd.Window.SetBounds(bg(ctx), cd.Prop.Geometry)
	}

	dctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
	defer cancel()

	var saveErr error
	if cd.Prop.Empty() {
		saveErr = c.deleteEmpty(dctx, e)
		if saveErr == nil {
			c.publish(EventDeleted, id, nil)
		}
	} else {
		// Pending writes already carry every change made outside the editor.
		if changed {
			if err := c.saveNow(e); err != nil {
				return err
			}
		}
		saveErr = c.drain(dctx, e)
	}

	if saveErr != nil && confirm != nil && !confirm(ctx, saveErr) {
		c.reopen(ctx, e, wasEditing)
		c.logger.Info("card: close declined", slog.String("id", string(id)), slog.String("error", saveErr.Error()))
		return saveErr
	}

	c.closeWindow(ctx, id, cd.Window)
	c.destroy(e)
	return saveErr
}

// reopen returns a card whose close was declined to Ready, or to
// EditingOpen with the editor toolbar restored when the close began there.
func (c *Coordinator) reopen(ctx context.Context, e *entry, editing bool) {
	var (
		win    window.Window
		render models.Geometry
	)
	_ = c.mutate(e, func(k *card.Card, _ *registry) error {
		if err := k.Transition(card.Ready); err != nil {
			return err
		}
		if !editing {
			return nil
		}
		if err := k.Transition(card.EditingOpen); err != nil {
			return err
		}
		k.RenderOffset = models.ToolbarHeight
		win, render = k.Window, k.RenderGeometry()
		return nil
	})
	if win == nil {
		return
	}
	if err := win.SetBounds(bg(ctx), render); err != nil {
		c.logger.Warn("card: regrow editor failed",
			slog.String("id", string(e.card.ID())),
			slog.String("error", err.Error()))
	}
}

// deleteEmpty flushes e's pending saves and removes its record.
func (c *Coordinator) deleteEmpty(ctx context.Context, e *entry) error {
	if err := c.drain(ctx, e); err != nil && errors.Is(err, apperr.ErrDrainCancelled) {
		return err
	}
	err := c.store.Delete(ctx, e.card.ID())
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

func (c *Coordinator) closeWindow(ctx context.Context, id models.CardID, win window.Window) {
	if win == nil {
		return
	}
	if err := win.Close(bg(ctx)); err != nil {
		c.logger.Warn("card: window close failed", slog.String("id", string(id)), slog.String("error", err.Error()))
	}
}

// Shutdown flushes the save queues of all cards and then closes their
// windows. After slowAfter, onSlow is asked once whether to keep waiting; a
// cancelled drain leaves every card open and returns an error matching
// apperr.ErrDrainCancelled. Save errors of individual cards are returned
// joined after the windows are closed.
func (c *Coordinator) Shutdown(ctx context.Context, slowAfter time.Duration, onSlow savequeue.SlowFunc) error {
	var entries []*entry
	if err := c.do(func(r *registry) error {
		for _, e := range r.cards {
			entries = append(entries, e)
		}
		return nil
	}); err != nil {
		return err
	}

	queues := make([]*savequeue.Pipeline, len(entries))
	for i, e := range entries {
		queues[i] = e.queue
	}
	c.logger.Info("coordinator: draining saves", slog.Int("cards", len(entries)))
	saveErr := savequeue.DrainAll(ctx, queues, slowAfter, onSlow)
	if errors.Is(saveErr, apperr.ErrDrainCancelled) {
		c.logger.Warn("coordinator: shutdown cancelled", slog.String("error", saveErr.Error()))
		return saveErr
	}

	for _, e := range entries {
		e.op.Lock()
		var (
			win  window.Window
			live bool
		)
		_ = c.do(func(r *registry) error {
			live = r.cards[e.card.ID()] == e
			win = e.card.Window
			return nil
		})
		if live {
			c.closeWindow(ctx, e.card.ID(), win)
			c.destroy(e)
		}
		e.op.Unlock()
	}
	if saveErr != nil {
		c.logger.Error("coordinator: shutdown with failed saves", slog.String("error", saveErr.Error()))
	}
	return saveErr
}
