package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/window"
)

// HandleEvent applies a raw window event to card id. Events for cards that
// are not Ready or EditingOpen are dropped.
func (c *Coordinator) HandleEvent(ctx context.Context, id models.CardID, ev window.Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("coordinator: unknown event %q", ev.Kind)
	}
	e, err := c.acquire(id)
	if err != nil {
		return err
	}
	defer e.op.Unlock()

	switch ev.Kind {
	case window.ResizedByHand:
		return c.resized(ctx, e, ev.Geometry)
	case window.MovedByHand:
		return c.moved(e, ev.Geometry)
	case window.Focused:
		return c.focused(ctx, e)
	case window.Blurred:
		return c.blurred(ctx, e)
	default:
		return c.windowClosed(ctx, e)
	}
}

func (c *Coordinator) resized(ctx context.Context, e *entry, g models.Geometry) error {
	var (
		host   window.ContentHost
		render models.Geometry
		view   card.View
		live   bool
	)
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		if live = k.Live(); !live {
			return nil
		}
		g.Height -= k.RenderOffset
		k.Prop.Geometry = g.Clamp()
		c.enqueue(e, k)
		host, render, view = k.Host, k.RenderGeometry(), k.View()
		return nil
	}); err != nil || !live {
		return err
	}
	if err := host.Resize(ctx, render.Width, render.Height); err != nil {
		c.logger.Warn("card: editor resize failed",
			slog.String("id", string(view.Prop.ID)),
			slog.String("error", err.Error()))
	}
	c.publish(EventUpdated, view.Prop.ID, view)
	return nil
}

func (c *Coordinator) moved(e *entry, g models.Geometry) error {
	var (
		view card.View
		live bool
	)
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		if live = k.Live(); !live {
			return nil
		}
		k.Prop.Geometry.X, k.Prop.Geometry.Y = g.X, g.Y
		c.enqueue(e, k)
		view = k.View()
		return nil
	}); err != nil || !live {
		return err
	}
	c.publish(EventUpdated, view.Prop.ID, view)
	return nil
}

func (c *Coordinator) focused(ctx context.Context, e *entry) error {
	var (
		win    window.Window
		handle bool
	)
	if err := c.mutate(e, func(k *card.Card, r *registry) error {
		if r.ledger.ConsumeFocus(k.ID()) {
			c.logger.Debug("card: focus suppressed", slog.String("id", string(k.ID())))
			return nil
		}
		if handle = k.Live(); handle {
			k.Focused = true
			win = k.Window
		}
		return nil
	}); err != nil || !handle {
		return err
	}
	return win.SetTitleVisible(ctx, true)
}

func (c *Coordinator) blurred(ctx context.Context, e *entry) error {
	var (
		cd     card.Card
		handle bool
	)
	if err := c.mutate(e, func(k *card.Card, r *registry) error {
		if r.ledger.ConsumeBlur(k.ID()) {
			c.logger.Debug("card: blur suppressed", slog.String("id", string(k.ID())))
			return nil
		}
		if handle = k.Live(); handle {
			k.Focused = false
			cd = *k
		}
		return nil
	}); err != nil || !handle {
		return err
	}

	if cd.Prop.Style.Transparent() {
		if err := cd.Window.SetTitleVisible(ctx, false); err != nil {
			return err
		}
	}
	if cd.State == card.EditingOpen {
		_, err := c.finishEditing(ctx, e)
		return err
	}
	return nil
}

// windowClosed handles a window destroyed by the host: pending saves are
// flushed and the card is dropped from the registry.
func (c *Coordinator) windowClosed(ctx context.Context, e *entry) error {
	cd, err := c.snapshot(e)
	if err != nil {
		return err
	}
	if !cd.Live() {
		return nil
	}
	if err := c.mutate(e, func(k *card.Card, _ *registry) error {
		return k.Transition(card.Closing)
	}); err != nil {
		return err
	}

	dctx, cancel := context.WithTimeout(bg(ctx), c.closeTimeout)
	defer cancel()
	if err := c.drain(dctx, e); err != nil {
		c.logger.Error("card: window closed with unsaved changes",
			slog.String("id", string(cd.ID())),
			slog.String("error", err.Error()))
	}
	c.destroy(e)
	return nil
}

// destroy marks e Destroyed and unregisters it.
func (c *Coordinator) destroy(e *entry) {
	var id models.CardID
	_ = c.do(func(r *registry) error {
		id = e.card.ID()
		e.card.State = card.Destroyed
		if r.cards[id] == e {
			delete(r.cards, id)
		}
		r.ledger.Forget(id)
		return nil
	})
	c.logger.Info("card: closed", slog.String("id", string(id)))
	c.publish(EventClosed, id, nil)
}

// ExternalChange reports a record modified outside this process. An open
// card keeps its local state, so its next save replaces the external edit.
func (c *Coordinator) ExternalChange(kind string, id models.CardID) {
	view, err := c.Card(id)
	open := err == nil
	if err != nil && !errors.Is(err, apperr.ErrUnknownCard) {
		return
	}
	c.logger.Info("card: external change",
		slog.String("id", string(id)),
		slog.String("kind", kind),
		slog.Bool("open", open))
	data := map[string]any{"kind": kind}
	if open {
		data["card"] = view
	}
	c.publish(EventExternalChange, id, data)
}
