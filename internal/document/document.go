// Package document maps CardProp to the flattened record layout kept in the
// store and back. Records are encoded as JSON for the SQLite engine and as
// Markdown with YAML frontmatter for the file engine.
package document

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/pinboard/internal/models"
)

// Document is one persisted card. Pointer fields distinguish a missing field
// from a zero value so that readers can default and report them.
type Document struct {
	ID                string     `json:"_id" yaml:"_id"`
	Rev               string     `json:"_rev,omitempty" yaml:"_rev,omitempty"`
	Data              *string    `json:"data,omitempty" yaml:"-"`
	X                 *int       `json:"x,omitempty" yaml:"x,omitempty"`
	Y                 *int       `json:"y,omitempty" yaml:"y,omitempty"`
	Width             *int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height            *int       `json:"height,omitempty" yaml:"height,omitempty"`
	TitleColor        *string    `json:"titleColor,omitempty" yaml:"titleColor,omitempty"`
	BackgroundColor   *string    `json:"backgroundColor,omitempty" yaml:"backgroundColor,omitempty"`
	BackgroundOpacity *float64   `json:"backgroundOpacity,omitempty" yaml:"backgroundOpacity,omitempty"`
	CreatedAt         *time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	ModifiedAt        *time.Time `json:"modifiedAt,omitempty" yaml:"modifiedAt,omitempty"`
}

// FromProp flattens p into a Document carrying rev.
func FromProp(p models.CardProp, rev models.Revision) Document {
	created := p.CreatedAt.UTC()
	modified := p.ModifiedAt.UTC()
	return Document{
		ID:                string(p.ID),
		Rev:               string(rev),
		Data:              ptr(p.Content),
		X:                 ptr(p.Geometry.X),
		Y:                 ptr(p.Geometry.Y),
		Width:             ptr(p.Geometry.Width),
		Height:            ptr(p.Geometry.Height),
		TitleColor:        ptr(p.Style.TitleColor),
		BackgroundColor:   ptr(p.Style.BackgroundColor),
		BackgroundOpacity: ptr(p.Style.BackgroundOpacity),
		CreatedAt:         &created,
		ModifiedAt:        &modified,
	}
}

// ToProp rebuilds a CardProp. Missing fields take the defaults of a new card
// and their names are returned so the caller can log them. Missing
// timestamps default to now.
func (d Document) ToProp(now time.Time) (models.CardProp, []string) {
	p := models.NewCardProp(models.CardID(d.ID), now)
	var missing []string

	str := func(name string, src *string, dst *string) {
		if src == nil {
			missing = append(missing, name)
			return
		}
		*dst = *src
	}
	num := func(name string, src *int, dst *int) {
		if src == nil {
			missing = append(missing, name)
			return
		}
		*dst = *src
	}
	ts := func(name string, src *time.Time, dst *time.Time) {
		if src == nil {
			missing = append(missing, name)
			return
		}
		*dst = *src
	}

	str("data", d.Data, &p.Content)
	num("x", d.X, &p.Geometry.X)
	num("y", d.Y, &p.Geometry.Y)
	num("width", d.Width, &p.Geometry.Width)
	num("height", d.Height, &p.Geometry.Height)
	str("titleColor", d.TitleColor, &p.Style.TitleColor)
	str("backgroundColor", d.BackgroundColor, &p.Style.BackgroundColor)
	if d.BackgroundOpacity == nil {
		missing = append(missing, "backgroundOpacity")
	} else {
		p.Style.BackgroundOpacity = *d.BackgroundOpacity
	}
	ts("createdAt", d.CreatedAt, &p.CreatedAt)
	ts("modifiedAt", d.ModifiedAt, &p.ModifiedAt)

	p.Geometry = p.Geometry.Clamp()
	p.Style = p.Style.Clamp()
	return p, missing
}

// MarshalJSON encodes d for the SQLite engine.
func MarshalJSON(d Document) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("document: marshal %s: %w", d.ID, err)
	}
	return data, nil
}

// UnmarshalJSON decodes a record written by MarshalJSON.
func UnmarshalJSON(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("document: unmarshal: %w", err)
	}
	return d, nil
}

func ptr[T any](v T) *T {
	return &v
}
