package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/savequeue"
	"github.com/starford/pinboard/internal/window"
)

// CreateCard opens a card window and returns once the card is shown.
//
// With an empty existing id a new id is generated and the card starts from
// the default prop without reading the store. Otherwise the stored prop is
// loaded; a failed load is logged and replaced by the default prop for that
// id. A window or content host that fails to become ready discards the card
// and returns an error matching apperr.ErrWindowLoad.
func (c *Coordinator) CreateCard(ctx context.Context, existing models.CardID) (card.View, error) {
	id, load := existing, existing != ""
	if !load {
		id = c.store.NewID()
	}

	e := &entry{card: card.New(models.CardProp{ID: id})}
	e.queue = savequeue.New(id, c.store, c.logger, func(res savequeue.Result) {
		c.onSaved(e, res)
	})
	e.op.Lock()
	defer e.op.Unlock()

	if err := c.do(func(r *registry) error {
		if _, dup := r.cards[id]; dup {
			return fmt.Errorf("card %s: %w", id, apperr.ErrAlreadyExists)
		}
		r.cards[id] = e
		return nil
	}); err != nil {
		return card.View{}, err
	}
	c.publish(EventCreated, id, nil)
	c.logger.Debug("card: initializing", slog.String("id", string(id)), slog.Bool("load", load))

	win, host, err := c.host.Open(ctx, id)
	if err != nil {
		return card.View{}, c.abort(id, e, nil, err)
	}
	if err := c.mutate(e, func(cd *card.Card, _ *registry) error {
		cd.Window, cd.Host = win, host
		return nil
	}); err != nil {
		return card.View{}, err
	}

	prop, rev, err := c.join(ctx, id, load, win, host)
	if err != nil {
		return card.View{}, c.abort(id, e, win, err)
	}

	var snap []byte
	if err := c.mutate(e, func(cd *card.Card, _ *registry) error {
		cd.Prop, cd.Revision = prop, rev
		snap, err = cd.Snapshot()
		return err
	}); err != nil {
		return card.View{}, c.abort(id, e, win, err)
	}

	// All three prerequisites are in: place, render, then show.
	if err := win.SetBounds(ctx, prop.Geometry); err != nil {
		return card.View{}, c.abort(id, e, win, err)
	}
	if err := host.Render(ctx, snap); err != nil {
		return card.View{}, c.abort(id, e, win, err)
	}
	if err := host.SetColors(ctx, prop.Style.BackgroundColor, prop.Style.TitleColor); err != nil {
		c.logger.Warn("card: set colors failed", slog.String("id", string(id)), slog.String("error", err.Error()))
	}
	if err := win.ShowInactive(ctx); err != nil {
		return card.View{}, c.abort(id, e, win, err)
	}

	var view card.View
	if err := c.mutate(e, func(cd *card.Card, _ *registry) error {
		if err := cd.Transition(card.Ready); err != nil {
			return err
		}
		view = cd.View()
		return nil
	}); err != nil {
		return card.View{}, err
	}
	c.logger.Info("card: ready", slog.String("id", string(id)))
	c.publish(EventReady, id, view)
	return view, nil
}

// join runs the three startup prerequisites concurrently and waits for all
// of them. Their completion order is irrelevant.
func (c *Coordinator) join(ctx context.Context, id models.CardID, load bool, win window.Window, host window.ContentHost) (models.CardProp, models.Revision, error) {
	var (
		prop models.CardProp
		rev  models.Revision
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := win.WaitReady(gctx); err != nil {
			return fmt.Errorf("window ready: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := host.WaitBooted(gctx); err != nil {
			return fmt.Errorf("content host boot: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		prop, rev = c.load(gctx, id, load)
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.CardProp{}, "", err
	}
	return prop, rev, nil
}

// load returns the stored prop for id, or the default prop when there is
// nothing to load or the load fails.
func (c *Coordinator) load(ctx context.Context, id models.CardID, load bool) (models.CardProp, models.Revision) {
	if !load {
		return models.NewCardProp(id, c.now()), ""
	}
	prop, rev, err := c.store.Get(ctx, id)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, apperr.ErrNotFound) {
			level = slog.LevelInfo
		}
		c.logger.Log(ctx, level, "card: load failed, using default",
			slog.String("id", string(id)),
			slog.String("error", err.Error()))
		return models.NewCardProp(id, c.now()), ""
	}
	prop.ID = id
	return prop, rev
}

// abort discards a card that failed to initialize.
func (c *Coordinator) abort(id models.CardID, e *entry, win window.Window, cause error) error {
	if win != nil {
		if err := win.Close(context.Background()); err != nil {
			c.logger.Debug("card: close after failed load", slog.String("id", string(id)), slog.String("error", err.Error()))
		}
	}
	_ = c.do(func(r *registry) error {
		e.card.State = card.Destroyed
		delete(r.cards, id)
		r.ledger.Forget(id)
		return nil
	})
	c.logger.Error("card: creation failed", slog.String("id", string(id)), slog.String("error", cause.Error()))
	c.publish(EventClosed, id, nil)
	return &apperr.WindowLoadError{ID: string(id), Err: cause}
}

// restoreLimit bounds how many restored cards initialize at once.
const restoreLimit = 4

// RestoreAll opens a card for every stored record. Cards that fail to open
// are logged and skipped; the number of opened cards is returned. A card
// whose window never reports ready fails after the bridge ready timeout
// without holding up the others.
func (c *Coordinator) RestoreAll(ctx context.Context) (int, error) {
	ids, err := c.store.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("coordinator: list cards: %w", err)
	}
	var opened atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(restoreLimit)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := c.CreateCard(ctx, id); err != nil {
				c.logger.Warn("card: restore failed", slog.String("id", string(id)), slog.String("error", err.Error()))
				return nil
			}
			opened.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	n := int(opened.Load())
	c.logger.Info("cards restored", slog.Int("opened", n), slog.Int("stored", len(ids)))
	return n, nil
}
