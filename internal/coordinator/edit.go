package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/savequeue"
	"github.com/starford/pinboard/internal/window"
)

// StartEditing opens the editor of a Ready card. The window grows by the
// toolbar height; the extra height is never persisted. Calling it on a card
// that is already being edited is a no-op.
func (c *Coordinator) StartEditing(ctx context.Context, id models.CardID) (card.View, error) {
	e, err := c.acquire(id)
	if err != nil {
		return card.View{}, err
	}
	defer e.op.Unlock()

	var (
		cd      card.Card
		already bool
	)
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		if k.State == card.EditingOpen {
			already = true
			cd = *k
			return nil
		}
		if err := k.Transition(card.EditingOpen); err != nil {
			return err
		}
		k.RenderOffset = models.ToolbarHeight
		cd = *k
		return nil
	}); err != nil {
		return card.View{}, err
	}
	if already {
		return cd.View(), nil
	}

	if err := cd.Window.SetBounds(ctx, cd.RenderGeometry()); err != nil {
		c.revertEditing(e)
		return card.View{}, err
	}
	if err := cd.Host.SetContent(ctx, cd.Prop.Content); err != nil {
		c.revertEditing(e)
		_ = cd.Window.SetBounds(bg(ctx), cd.Prop.Geometry)
		return card.View{}, err
	}
	c.focusEditor(ctx, &cd)
	c.logger.Debug("card: editing", slog.String("id", string(id)))
	view := cd.View()
	c.publish(EventUpdated, id, view)
	return view, nil
}

// focusEditor hands input focus to the editor. The window blur this causes
// must not finish the editing session it starts.
func (c *Coordinator) focusEditor(ctx context.Context, cd *card.Card) {
	id := cd.ID()
	_ = c.do(func(r *registry) error {
		r.ledger.SuppressNextBlur(id)
		return nil
	})
	if err := cd.Host.FocusEditor(ctx); err != nil {
		_ = c.do(func(r *registry) error {
			r.ledger.ConsumeBlur(id)
			return nil
		})
		c.logger.Warn("card: focus editor failed", slog.String("id", string(id)), slog.String("error", err.Error()))
	}
}

func (c *Coordinator) revertEditing(e *entry) {
	_ = c.mutate(e, func(k *card.Card, _ *registry) error {
		if k.State == card.EditingOpen {
			k.State = card.Ready
		}
		k.RenderOffset = 0
		return nil
	})
}

// FinishEditing closes the editor, writes its content into the card and
// enqueues a save when the content changed.
func (c *Coordinator) FinishEditing(ctx context.Context, id models.CardID) (card.View, error) {
	e, err := c.acquire(id)
	if err != nil {
		return card.View{}, err
	}
	defer e.op.Unlock()
	return c.finishEditing(ctx, e)
}

// finishEditing expects e.op to be held.
func (c *Coordinator) finishEditing(ctx context.Context, e *entry) (card.View, error) {
	cd, err := c.snapshot(e)
	if err != nil {
		return card.View{}, err
	}
	if cd.State != card.EditingOpen {
		return card.View{}, errState(&cd)
	}

	content, err := cd.Host.GetContent(ctx)
	if err != nil {
		return card.View{}, err
	}

	var view card.View
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		if err := k.Transition(card.Ready); err != nil {
			return err
		}
		k.RenderOffset = 0
		if content != k.Prop.Content {
			k.Prop.Content = content
			c.enqueue(e, k)
		}
		view = k.View()
		return nil
	}); err != nil {
		return card.View{}, err
	}

	if err := cd.Window.SetBounds(ctx, view.Prop.Geometry); err != nil {
		c.logger.Warn("card: shrink after editing failed",
			slog.String("id", string(cd.ID())),
			slog.String("error", err.Error()))
	}
	c.publish(EventUpdated, cd.ID(), view)
	return view, nil
}

func errState(k *card.Card) error {
	return fmt.Errorf("card %s is %s: %w", k.ID(), k.State, apperr.ErrInvalidState)
}

// SetStyle replaces the card's style, pushes its colors to the editor and
// enqueues a save.
func (c *Coordinator) SetStyle(ctx context.Context, id models.CardID, st models.Style) (card.View, error) {
	e, err := c.acquire(id)
	if err != nil {
		return card.View{}, err
	}
	defer e.op.Unlock()

	var (
		cd   card.Card
		view card.View
	)
	st = st.Clamp()
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		if !k.Live() {
			return errState(k)
		}
		k.Prop.Style = st
		c.enqueue(e, k)
		cd, view = *k, k.View()
		return nil
	}); err != nil {
		return card.View{}, err
	}

	if err := cd.Host.SetColors(ctx, st.BackgroundColor, st.TitleColor); err != nil {
		return view, err
	}
	if err := cd.Window.SetTitleVisible(ctx, cd.Focused || !st.Transparent()); err != nil {
		return view, err
	}
	c.publish(EventUpdated, id, view)
	return view, nil
}

// BringToFront focuses the card's window. The focus event this causes is
// swallowed.
func (c *Coordinator) BringToFront(ctx context.Context, id models.CardID) error {
	e, err := c.acquire(id)
	if err != nil {
		return err
	}
	defer e.op.Unlock()

	var win window.Window
	if err := c.mutate(e, func(k *card.Card, r *registry) error {
		if !k.Live() {
			return errState(k)
		}
		win = k.Window
		r.ledger.SuppressNextFocus(id)
		return nil
	}); err != nil {
		return err
	}
	if err := win.Focus(ctx); err != nil {
		// No focus event will arrive; drop the flag.
		_ = c.do(func(r *registry) error {
			r.ledger.ConsumeFocus(id)
			return nil
		})
		return err
	}
	return nil
}

// enqueue stamps ModifiedAt and schedules k's prop for saving. It runs on
// the loop.
func (c *Coordinator) enqueue(e *entry, k *card.Card) {
	k.Prop.ModifiedAt = c.now().UTC()
	k.Saving = true
	e.queue.Enqueue(k.Prop)
}

// onSaved records a completed write on the card.
func (c *Coordinator) onSaved(e *entry, res savequeue.Result) {
	id := res.Prop.ID
	c.post(func(*registry) {
		k := e.card
		if res.Err == nil {
			k.Revision = res.Revision
			k.LastSaveErr = nil
		} else {
			k.LastSaveErr = res.Err
		}
		k.Saving = !res.Idle
		view := k.View()
		if res.Err != nil {
			c.publish(EventSaveFailed, id, view)
			return
		}
		c.publish(EventSaved, id, view)
	})
}

// saveNow enqueues the card's current prop.
func (c *Coordinator) saveNow(e *entry) error {
	return c.mutate(e, func(k *card.Card, _ *registry) error {
		c.enqueue(e, k)
		return nil
	})
}

// drain waits for e's pending saves.
func (c *Coordinator) drain(ctx context.Context, e *entry) error {
	return e.queue.Drain(ctx, 0, nil)
}
