// Package models defines the domain types for pinboard.
package models

import "time"

// Geometry and style defaults for a freshly created card.
const (
	DefaultX      = 70
	DefaultY      = 70
	DefaultWidth  = 260
	DefaultHeight = 176

	// MinWidth and MinHeight bound a card's size from below.
	MinWidth  = 180
	MinHeight = 80

	// ToolbarHeight is added to the rendered window height while editing.
	// It is never written into the persisted geometry.
	ToolbarHeight = 30

	DefaultTitleColor      = "#d9d9d9"
	DefaultBackgroundColor = "#ffffff"
	DefaultOpacity         = 1.0
)

// CardID identifies a card. It is assigned once by the store and never changes.
type CardID string

// Revision is the store's opaque concurrency token for a record.
// The empty Revision means "no record known".
type Revision string

// Geometry is a card's window position and size in pixels.
type Geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Clamp returns g with width and height raised to the minimum card size.
func (g Geometry) Clamp() Geometry {
	if g.Width < MinWidth {
		g.Width = MinWidth
	}
	if g.Height < MinHeight {
		g.Height = MinHeight
	}
	return g
}

// Style is a card's color scheme.
type Style struct {
	TitleColor        string  `json:"titleColor"`
	BackgroundColor   string  `json:"backgroundColor"`
	BackgroundOpacity float64 `json:"backgroundOpacity"`
}

// Transparent reports whether the card background is fully transparent.
// Transparent cards hide their title chrome while unfocused.
func (s Style) Transparent() bool {
	return s.BackgroundOpacity == 0
}

// Clamp returns s with the opacity forced into [0, 1].
func (s Style) Clamp() Style {
	switch {
	case s.BackgroundOpacity < 0:
		s.BackgroundOpacity = 0
	case s.BackgroundOpacity > 1:
		s.BackgroundOpacity = 1
	}
	return s
}

// Timestamps records when a card was created and last saved.
type Timestamps struct {
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// CardProp is the persisted unit of a card.
type CardProp struct {
	ID       CardID   `json:"id"`
	Content  string   `json:"data"`
	Geometry Geometry `json:"geometry"`
	Style    Style    `json:"style"`
	Timestamps
}

// Empty reports whether the card carries no content.
func (p CardProp) Empty() bool {
	return p.Content == ""
}

// DefaultGeometry returns the geometry of a new card.
func DefaultGeometry() Geometry {
	return Geometry{X: DefaultX, Y: DefaultY, Width: DefaultWidth, Height: DefaultHeight}
}

// DefaultStyle returns the style of a new card.
func DefaultStyle() Style {
	return Style{
		TitleColor:        DefaultTitleColor,
		BackgroundColor:   DefaultBackgroundColor,
		BackgroundOpacity: DefaultOpacity,
	}
}

// NewCardProp returns the default prop for id, stamped with now.
func NewCardProp(id CardID, now time.Time) CardProp {
	return CardProp{
		ID:       id,
		Geometry: DefaultGeometry(),
		Style:    DefaultStyle(),
		Timestamps: Timestamps{
			CreatedAt:  now,
			ModifiedAt: now,
		},
	}
}

// CardSummary is a lightweight representation returned by list operations.
type CardSummary struct {
	ID         CardID    `json:"id"`
	Revision   Revision  `json:"revision"`
	Preview    string    `json:"preview"`
	ModifiedAt time.Time `json:"modifiedAt"`
}
