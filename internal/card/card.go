// Package card holds the runtime entity of one sticky note: its persisted
// properties, its window, and its lifecycle state.
package card

import (
	"fmt"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/document"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/window"
)

// State is a card's lifecycle state.
type State int

const (
	Initializing State = iota
	Ready
	EditingOpen
	Closing
	Destroyed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case EditingOpen:
		return "editing"
	case Closing:
		return "closing"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := Initializing; st <= Destroyed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("card: unknown state %q", text)
}

var transitions = map[State][]State{
	Initializing: {Ready, Destroyed},
	Ready:        {EditingOpen, Closing, Destroyed},
	EditingOpen:  {Ready, Closing, Destroyed},
	Closing:      {Ready, Destroyed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Card is the runtime entity. Only the coordinator mutates it.
type Card struct {
	Prop     models.CardProp
	Revision models.Revision
	State    State

	// Window and Host are owned exclusively by this card.
	Window window.Window
	Host   window.ContentHost

	// RenderOffset is extra window height that is displayed but never persisted.
	RenderOffset int
	// Focused mirrors the last user-driven focus state.
	Focused bool
	// Saving is set while the card's save queue has unacknowledged writes.
	Saving bool
	// LastSaveErr is the error of the most recent failed save, cleared on success.
	LastSaveErr error
}

// New returns an Initializing card for p.
func New(p models.CardProp) *Card {
	return &Card{Prop: p, State: Initializing}
}

// ID returns the card's id.
func (c *Card) ID() models.CardID {
	return c.Prop.ID
}

// Transition moves the card to the given state.
func (c *Card) Transition(to State) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("card %s: %s -> %s: %w", c.Prop.ID, c.State, to, apperr.ErrInvalidState)
	}
	c.State = to
	return nil
}

// Live reports whether the card accepts user events.
func (c *Card) Live() bool {
	return c.State == Ready || c.State == EditingOpen
}

// RenderGeometry is the window geometry to display, including the render offset.
func (c *Card) RenderGeometry() models.Geometry {
	g := c.Prop.Geometry
	g.Height += c.RenderOffset
	return g
}

// Snapshot serializes the card for the content host.
func (c *Card) Snapshot() ([]byte, error) {
	return document.MarshalJSON(document.FromProp(c.Prop, c.Revision))
}

// View is a read-only copy of a card handed out of the coordinator.
type View struct {
	Prop         models.CardProp `json:"prop"`
	Revision     models.Revision `json:"revision"`
	State        State           `json:"state"`
	RenderOffset int             `json:"renderOffset"`
	Focused      bool            `json:"focused"`
	Saving       bool            `json:"saving"`
	LastSaveErr  string          `json:"lastSaveError,omitempty"`
}

// View copies the card's observable state.
func (c *Card) View() View {
	v := View{
		Prop:         c.Prop,
		Revision:     c.Revision,
		State:        c.State,
		RenderOffset: c.RenderOffset,
		Focused:      c.Focused,
		Saving:       c.Saving,
	}
	if c.LastSaveErr != nil {
		v.LastSaveErr = c.LastSaveErr.Error()
	}
	return v
}
