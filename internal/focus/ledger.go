// Package focus tracks focus and blur transitions that the coordinator
// triggers itself, so the window events they cause are not mistaken for
// user actions.
package focus

import "github.com/starford/pinboard/internal/models"

type flags struct {
	focus bool
	blur  bool
}

// Ledger holds one-shot suppression flags per card.
//
// A Ledger is not safe for concurrent use; it belongs to the coordinator loop.
type Ledger struct {
	cards map[models.CardID]flags
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{cards: make(map[models.CardID]flags)}
}

// SuppressNextFocus swallows the next focus event of id.
func (l *Ledger) SuppressNextFocus(id models.CardID) {
	f := l.cards[id]
	f.focus = true
	l.cards[id] = f
}

// SuppressNextBlur swallows the next blur event of id.
func (l *Ledger) SuppressNextBlur(id models.CardID) {
	f := l.cards[id]
	f.blur = true
	l.cards[id] = f
}

// ConsumeFocus reports whether a focus event of id is suppressed and
// clears the flag.
func (l *Ledger) ConsumeFocus(id models.CardID) bool {
	f, ok := l.cards[id]
	if !ok || !f.focus {
		return false
	}
	f.focus = false
	l.store(id, f)
	return true
}

// ConsumeBlur reports whether a blur event of id is suppressed and clears
// the flag.
func (l *Ledger) ConsumeBlur(id models.CardID) bool {
	f, ok := l.cards[id]
	if !ok || !f.blur {
		return false
	}
	f.blur = false
	l.store(id, f)
	return true
}

// Forget drops any flags left for id.
func (l *Ledger) Forget(id models.CardID) {
	delete(l.cards, id)
}

// Len returns the number of cards with at least one pending flag.
func (l *Ledger) Len() int {
	return len(l.cards)
}

func (l *Ledger) store(id models.CardID, f flags) {
	if !f.focus && !f.blur {
		delete(l.cards, id)
		return
	}
	l.cards[id] = f
}
