// Package window declares the presentation-side collaborators of a card:
// its window, the content host rendered inside it, and the editing
// capability. Implementations live outside the coordinator.
package window

import (
	"context"

	"github.com/starford/pinboard/internal/models"
)

// Host opens the window and content host for a card.
type Host interface {
	Open(ctx context.Context, id models.CardID) (Window, ContentHost, error)
}

// Window is a card's on-screen window.
type Window interface {
	// WaitReady blocks until the window is ready to show.
	WaitReady(ctx context.Context) error
	SetBounds(ctx context.Context, g models.Geometry) error
	// ShowInactive makes the window visible without taking input focus.
	ShowInactive(ctx context.Context) error
	Focus(ctx context.Context) error
	SetTitleVisible(ctx context.Context, visible bool) error
	Close(ctx context.Context) error
}

// Editor is the rich-text editing capability. The coordinator never
// inspects the content it moves through it.
type Editor interface {
	GetContent(ctx context.Context) (string, error)
	SetContent(ctx context.Context, content string) error
	Resize(ctx context.Context, width, height int) error
	SetColors(ctx context.Context, background, title string) error
	// FocusEditor moves input focus into the editor. The window reports
	// the blur this causes.
	FocusEditor(ctx context.Context) error
}

// ContentHost is the document rendered inside a window.
type ContentHost interface {
	Editor
	// WaitBooted blocks until the host finished its own boot sequence.
	WaitBooted(ctx context.Context) error
	// Render replaces the displayed card with a serialized snapshot.
	Render(ctx context.Context, snapshot []byte) error
}

// EventKind names a raw window event.
type EventKind string

// Raw window events reported by the presentation layer.
const (
	ResizedByHand EventKind = "resized-by-hand"
	MovedByHand   EventKind = "moved-by-hand"
	Focused       EventKind = "focused"
	Blurred       EventKind = "blurred"
	Closed        EventKind = "closed"
)

// Event is a raw window event. Geometry is set for resize and move events.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Geometry models.Geometry `json:"geometry,omitempty"`
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case ResizedByHand, MovedByHand, Focused, Blurred, Closed:
		return true
	}
	return false
}
