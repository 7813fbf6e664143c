package api

import (
	"encoding/json"

	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/models"
)

// CreateCardRequest is the request body for opening a card. An empty id
// creates a new card.
type CreateCardRequest struct {
	ID models.CardID `json:"id,omitempty" example:"01JQ8Y0Z3V5C6T9R2W4X7K1M0N"`
}

// StyleRequest is the request body for changing card colors.
type StyleRequest struct {
	TitleColor        string   `json:"titleColor" example:"#d9d9d9" validate:"required"`
	BackgroundColor   string   `json:"backgroundColor" example:"#ffffff" validate:"required"`
	BackgroundOpacity *float64 `json:"backgroundOpacity" example:"1" validate:"required"`
}

// AckRequest answers a command published on the event stream.
type AckRequest struct {
	RequestID string          `json:"requestId" validate:"required"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SignalRequest reports a card window milestone.
type SignalRequest struct {
	CardID models.CardID `json:"cardId" validate:"required"`
	Signal string        `json:"signal" example:"ready" validate:"required"`
}

// CardListResponse wraps the open cards.
type CardListResponse struct {
	Cards []card.View `json:"cards" validate:"required"`
	Total int         `json:"total" example:"3" validate:"required"`
}

// StoredListResponse wraps the stored card summaries.
type StoredListResponse struct {
	Cards []models.CardSummary `json:"cards" validate:"required"`
	Total int                  `json:"total" example:"3" validate:"required"`
}
