// Package bridge implements window.Host for a presentation process that
// lives on the other side of an SSE stream. Commands go out as SSE events
// carrying a request id; the presentation answers each one through Ack and
// reports readiness through Signal. Commands stay retained on the stream
// until answered, so a presentation that connects late still receives them.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/sse"
	"github.com/starford/pinboard/internal/window"
)

// Command names published to the presentation process.
const (
	CmdOpen            = "window.open"
	CmdSetBounds       = "window.set_bounds"
	CmdShowInactive    = "window.show_inactive"
	CmdFocus           = "window.focus"
	CmdSetTitleVisible = "window.set_title_visible"
	CmdClose           = "window.close"
	CmdRender          = "content.render"
	CmdGetContent      = "editor.get_content"
	CmdSetContent      = "editor.set_content"
	CmdResize          = "editor.resize"
	CmdSetColors       = "editor.set_colors"
	CmdFocusEditor     = "editor.focus"
)

// Signals the presentation sends once a card's surfaces are up.
const (
	SignalReady  = "ready"
	SignalBooted = "booted"
)

// ErrUnknownRequest is returned by Ack for a request id nobody waits for.
var ErrUnknownRequest = errors.New("unknown request")

// Publisher delivers commands to the presentation process and replays
// them to late subscribers until settled.
type Publisher interface {
	Send(key string, event sse.Event)
	Settle(key string)
}

// Command is the data of a published command event.
type Command struct {
	RequestID string        `json:"requestId"`
	CardID    models.CardID `json:"cardId"`
	Payload   any           `json:"payload,omitempty"`
}

type reply struct {
	result json.RawMessage
	err    string
}

type session struct {
	ready     chan struct{}
	booted    chan struct{}
	readyOnce sync.Once
	bootOnce  sync.Once
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithReadyTimeout bounds how long a card waits for its window to report
// ready and its content host to report booted.
func WithReadyTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.readyTimeout = d
		}
	}
}

// Bridge is the remote window host. It is safe for concurrent use.
type Bridge struct {
	pub          Publisher
	logger       *slog.Logger
	timeout      time.Duration
	readyTimeout time.Duration

	mu       sync.Mutex
	pending  map[string]chan reply
	sessions map[models.CardID]*session
}

// New creates a Bridge publishing through pub. timeout bounds every command
// round trip; zero means 10 seconds. The ready timeout defaults to three
// times the command timeout.
func New(pub Publisher, logger *slog.Logger, timeout time.Duration, opts ...Option) *Bridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &Bridge{
		pub:          pub,
		logger:       logger,
		timeout:      timeout,
		readyTimeout: 3 * timeout,
		pending:      make(map[string]chan reply),
		sessions:     make(map[models.CardID]*session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func openKey(id models.CardID) string {
	return CmdOpen + ":" + string(id)
}

var _ window.Host = (*Bridge)(nil)

// Open asks the presentation to create the window of id.
func (b *Bridge) Open(_ context.Context, id models.CardID) (window.Window, window.ContentHost, error) {
	s := &session{ready: make(chan struct{}), booted: make(chan struct{})}
	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	b.pub.Send(openKey(id), sse.Event{Type: CmdOpen, Data: Command{CardID: id}})
	b.logger.Debug("bridge: window requested", slog.String("id", string(id)))
	r := &remote{b: b, id: id, s: s}
	return r, r, nil
}

// Signal marks a readiness milestone of card id.
func (b *Bridge) Signal(id models.CardID, signal string) error {
	b.mu.Lock()
	s := b.sessions[id]
	b.mu.Unlock()
	if s == nil {
		return fmt.Errorf("bridge: signal %s: %w", id, apperr.ErrUnknownCard)
	}
	switch signal {
	case SignalReady:
		s.readyOnce.Do(func() { close(s.ready) })
		b.pub.Settle(openKey(id))
	case SignalBooted:
		s.bootOnce.Do(func() { close(s.booted) })
	default:
		return fmt.Errorf("bridge: unknown signal %q", signal)
	}
	return nil
}

// Ack delivers the answer to a command. A non-empty errMsg fails it.
func (b *Bridge) Ack(requestID string, result json.RawMessage, errMsg string) error {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	delete(b.pending, requestID)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge: ack %s: %w", requestID, ErrUnknownRequest)
	}
	ch <- reply{result: result, err: errMsg}
	return nil
}

// Release forgets the session of a card whose window is gone.
func (b *Bridge) Release(id models.CardID) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	b.pub.Settle(openKey(id))
}

// await blocks until done is closed, bounded by the ready timeout.
func (b *Bridge) await(ctx context.Context, id models.CardID, what string, done <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, b.readyTimeout)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		b.logger.Warn("bridge: window never reported "+what, slog.String("id", string(id)))
		return &apperr.TransportError{Op: "wait " + what, Err: ctx.Err()}
	}
}

// Pending returns the number of commands awaiting an ack.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// call publishes a command and waits for its ack.
func (b *Bridge) call(ctx context.Context, id models.CardID, op string, payload any) (json.RawMessage, error) {
	reqID := uuid.NewString()
	ch := make(chan reply, 1)
	b.mu.Lock()
	b.pending[reqID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, reqID)
		b.mu.Unlock()
		b.pub.Settle(reqID)
	}()

	b.pub.Send(reqID, sse.Event{Type: op, Data: Command{RequestID: reqID, CardID: id, Payload: payload}})

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	select {
	case r := <-ch:
		if r.err != "" {
			return nil, &apperr.TransportError{Op: op, Err: errors.New(r.err)}
		}
		return r.result, nil
	case <-ctx.Done():
		b.logger.Warn("bridge: command unanswered",
			slog.String("id", string(id)),
			slog.String("op", op),
			slog.String("request", reqID))
		return nil, &apperr.TransportError{Op: op, Err: ctx.Err()}
	}
}
