package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/window"
)

// fakeHost records every window and content host call in one ordered log.
type fakeHost struct {
	mu      sync.Mutex
	log     []string
	windows map[models.CardID]*fakeWindow
	hosts   map[models.CardID]*fakeContent

	// gated windows wait for release before reporting ready and booted.
	gated bool
	// readyErr makes WaitReady of the listed cards fail.
	readyErr map[models.CardID]error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		windows:  make(map[models.CardID]*fakeWindow),
		hosts:    make(map[models.CardID]*fakeContent),
		readyErr: make(map[models.CardID]error),
	}
}

func (h *fakeHost) Open(_ context.Context, id models.CardID) (window.Window, window.ContentHost, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w := &fakeWindow{h: h, id: id, ready: make(chan struct{}), readyErr: h.readyErr[id]}
	ch := &fakeContent{h: h, id: id, booted: make(chan struct{})}
	if !h.gated {
		close(w.ready)
		close(ch.booted)
	}
	h.windows[id] = w
	h.hosts[id] = ch
	h.log = append(h.log, string(id)+":open")
	return w, ch, nil
}

func (h *fakeHost) record(id models.CardID, op string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, string(id)+":"+op)
}

// calls returns the operations logged for id, in order.
func (h *fakeHost) calls(id models.CardID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := string(id) + ":"
	var out []string
	for _, l := range h.log {
		if len(l) > len(prefix) && l[:len(prefix)] == prefix {
			out = append(out, l[len(prefix):])
		}
	}
	return out
}

func (h *fakeHost) count(id models.CardID, op string) int {
	n := 0
	for _, c := range h.calls(id) {
		if c == op {
			n++
		}
	}
	return n
}

func (h *fakeHost) window(id models.CardID) *fakeWindow {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.windows[id]
}

func (h *fakeHost) content(id models.CardID) *fakeContent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hosts[id]
}

type fakeWindow struct {
	h        *fakeHost
	id       models.CardID
	ready    chan struct{}
	readyErr error

	mu           sync.Mutex
	bounds       []models.Geometry
	titleVisible []bool
	closed       bool
	focusErr     error
}

func (w *fakeWindow) WaitReady(ctx context.Context) error {
	select {
	case <-w.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.h.record(w.id, "ready")
	return w.readyErr
}

func (w *fakeWindow) SetBounds(_ context.Context, g models.Geometry) error {
	w.mu.Lock()
	w.bounds = append(w.bounds, g)
	w.mu.Unlock()
	w.h.record(w.id, "set_bounds")
	return nil
}

func (w *fakeWindow) ShowInactive(context.Context) error {
	w.h.record(w.id, "show_inactive")
	return nil
}

func (w *fakeWindow) Focus(context.Context) error {
	w.h.record(w.id, "focus")
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.focusErr
}

func (w *fakeWindow) SetTitleVisible(_ context.Context, visible bool) error {
	w.mu.Lock()
	w.titleVisible = append(w.titleVisible, visible)
	w.mu.Unlock()
	w.h.record(w.id, fmt.Sprintf("title_visible=%t", visible))
	return nil
}

func (w *fakeWindow) Close(context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.h.record(w.id, "close")
	return nil
}

func (w *fakeWindow) lastBounds() models.Geometry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.bounds) == 0 {
		return models.Geometry{}
	}
	return w.bounds[len(w.bounds)-1]
}

func (w *fakeWindow) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

type fakeContent struct {
	h      *fakeHost
	id     models.CardID
	booted chan struct{}

	mu       sync.Mutex
	content  string
	rendered [][]byte
	sizes    [][2]int
	focusErr error
}

func (c *fakeContent) WaitBooted(ctx context.Context) error {
	select {
	case <-c.booted:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.h.record(c.id, "booted")
	return nil
}

func (c *fakeContent) Render(_ context.Context, snapshot []byte) error {
	c.mu.Lock()
	c.rendered = append(c.rendered, snapshot)
	c.mu.Unlock()
	c.h.record(c.id, "render")
	return nil
}

func (c *fakeContent) GetContent(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content, nil
}

func (c *fakeContent) SetContent(_ context.Context, content string) error {
	c.mu.Lock()
	c.content = content
	c.mu.Unlock()
	c.h.record(c.id, "set_content")
	return nil
}

// typeText simulates the user typing into the editor.
func (c *fakeContent) typeText(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.content = s
}

func (c *fakeContent) Resize(_ context.Context, w, h int) error {
	c.mu.Lock()
	c.sizes = append(c.sizes, [2]int{w, h})
	c.mu.Unlock()
	c.h.record(c.id, "resize")
	return nil
}

func (c *fakeContent) SetColors(context.Context, string, string) error {
	c.h.record(c.id, "set_colors")
	return nil
}

// FocusEditor records the handoff. The blur it causes is sent by the test.
func (c *fakeContent) FocusEditor(context.Context) error {
	c.h.record(c.id, "focus_editor")
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusErr
}

// recorder collects published notifications.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) PublishCardEvent(kind string, id models.CardID, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+string(id))
}

func (r *recorder) has(kind string, id models.CardID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == kind+":"+string(id) {
			return true
		}
	}
	return false
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

var errBoom = errors.New("boom")
