// Package coordinator drives the lifecycle of every live card: creation and
// the startup join, editing, window events, saves and closing.
//
// Concurrency model: a single internal goroutine owns the card registry and
// the focus suppression ledger; public methods send it short closures over
// a channel. Window, content host and store calls never run on that
// goroutine. Operations on one card are serialized by the card's own lock,
// so different cards interleave freely while one card never runs two
// coordinator operations at once.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/focus"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/savequeue"
	"github.com/starford/pinboard/internal/store"
	"github.com/starford/pinboard/internal/window"
)

// ErrClosed is returned by operations on a stopped coordinator.
var ErrClosed = errors.New("coordinator closed")

// Store is the document store as seen by the coordinator.
type Store interface {
	store.Store
	NewID() models.CardID
}

// Publisher receives card lifecycle notifications.
type Publisher interface {
	PublishCardEvent(kind string, id models.CardID, data any)
}

// Notification kinds sent to the Publisher.
const (
	EventCreated        = "card.created"
	EventReady          = "card.ready"
	EventUpdated        = "card.updated"
	EventSaved          = "card.saved"
	EventSaveFailed     = "card.save_failed"
	EventClosed         = "card.closed"
	EventDeleted        = "card.deleted"
	EventExternalChange = "card.external_change"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPublisher sets the receiver of lifecycle notifications.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithCloseTimeout bounds how long closing a card waits for its final save.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.closeTimeout = d }
}

// entry is a registered card. op serializes coordinator operations on it.
type entry struct {
	op    sync.Mutex
	card  *card.Card
	queue *savequeue.Pipeline
}

type registry struct {
	cards  map[models.CardID]*entry
	ledger *focus.Ledger
}

// Coordinator owns every live card.
type Coordinator struct {
	store        Store
	host         window.Host
	logger       *slog.Logger
	pub          Publisher
	now          func() time.Time
	closeTimeout time.Duration

	ops     chan func(*registry)
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts a coordinator that persists through s and opens windows on host.
func New(s Store, host window.Host, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        s,
		host:         host,
		logger:       slog.Default(),
		now:          time.Now,
		closeTimeout: 30 * time.Second,
		ops:          make(chan func(*registry), 64),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.stopped)

	reg := &registry{
		cards:  make(map[models.CardID]*entry),
		ledger: focus.NewLedger(),
	}
	for {
		select {
		case <-c.stopCh:
			return
		case op := <-c.ops:
			op(reg)
		}
	}
}

// Close stops the coordinator loop. Cards are not saved; call Shutdown first.
func (c *Coordinator) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	<-c.stopped
}

// do runs fn on the coordinator loop and waits for its result.
// fn must not block.
func (c *Coordinator) do(fn func(r *registry) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	select {
	case c.ops <- func(r *registry) { done <- fn(r) }:
	case <-c.stopped:
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// post runs fn on the coordinator loop without waiting.
func (c *Coordinator) post(fn func(r *registry)) {
	if c.closed.Load() {
		return
	}
	select {
	case c.ops <- fn:
	case <-c.stopped:
	}
}

// acquire looks up id and locks it for one operation. The caller must
// call e.op.Unlock.
func (c *Coordinator) acquire(id models.CardID) (*entry, error) {
	var e *entry
	err := c.do(func(r *registry) error {
		e = r.cards[id]
		if e == nil {
			return apperr.ErrUnknownCard
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.op.Lock()
	// The card may have been destroyed while we waited for its lock.
	if err := c.do(func(r *registry) error {
		if r.cards[id] != e {
			return apperr.ErrUnknownCard
		}
		return nil
	}); err != nil {
		e.op.Unlock()
		return nil, err
	}
	return e, nil
}

// snapshot copies e's card on the loop.
func (c *Coordinator) snapshot(e *entry) (card.Card, error) {
	var cp card.Card
	err := c.do(func(*registry) error {
		cp = *e.card
		return nil
	})
	return cp, err
}

// mutate runs fn against e's card on the loop.
func (c *Coordinator) mutate(e *entry, fn func(cd *card.Card, r *registry) error) error {
	return c.do(func(r *registry) error {
		return fn(e.card, r)
	})
}

// Card returns a view of the card id.
func (c *Coordinator) Card(id models.CardID) (card.View, error) {
	var v card.View
	err := c.do(func(r *registry) error {
		e := r.cards[id]
		if e == nil {
			return apperr.ErrUnknownCard
		}
		v = e.card.View()
		return nil
	})
	return v, err
}

// List returns views of all registered cards ordered by id.
func (c *Coordinator) List() ([]card.View, error) {
	var out []card.View
	err := c.do(func(r *registry) error {
		out = make([]card.View, 0, len(r.cards))
		for _, e := range r.cards {
			out = append(out, e.card.View())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Prop.ID < out[j].Prop.ID })
	return out, err
}

func (c *Coordinator) publish(kind string, id models.CardID, data any) {
	if c.pub != nil {
		c.pub.PublishCardEvent(kind, id, data)
	}
}

// bg returns a context for window calls that must finish even when the
// caller's request context is gone.
func bg(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
