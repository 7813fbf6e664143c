package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/card"
	"github.com/starford/pinboard/internal/coordinator"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/window"
)

// Cards is the coordinator surface driven over HTTP.
type Cards interface {
	CreateCard(ctx context.Context, existing models.CardID) (card.View, error)
	Card(id models.CardID) (card.View, error)
	List() ([]card.View, error)
	StartEditing(ctx context.Context, id models.CardID) (card.View, error)
	FinishEditing(ctx context.Context, id models.CardID) (card.View, error)
	SetStyle(ctx context.Context, id models.CardID, st models.Style) (card.View, error)
	BringToFront(ctx context.Context, id models.CardID) error
	CloseCard(ctx context.Context, id models.CardID, confirm coordinator.ConfirmFunc) error
	HandleEvent(ctx context.Context, id models.CardID, ev window.Event) error
}

// Bridge receives the presentation process's replies.
type Bridge interface {
	Ack(requestID string, result json.RawMessage, errMsg string) error
	Signal(id models.CardID, signal string) error
	Release(id models.CardID)
}

// Summaries lists stored cards whether or not they are open.
type Summaries interface {
	Summaries(ctx context.Context) ([]models.CardSummary, error)
}

// Handler holds API route handlers.
type Handler struct {
	cards  Cards
	bridge Bridge
	stored Summaries
}

// NewHandler creates a new Handler. bridge and stored may be nil.
func NewHandler(cards Cards, bridge Bridge, stored Summaries) *Handler {
	return &Handler{cards: cards, bridge: bridge, stored: stored}
}

func cardID(r *http.Request) models.CardID {
	return models.CardID(chi.URLParam(r, "id"))
}

var colorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, op string, id models.CardID, err error) {
	switch {
	case errors.Is(err, apperr.ErrUnknownCard), errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("card already open"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("revision conflict"))
	case errors.Is(err, apperr.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrWindowLoad), errors.Is(err, apperr.ErrTransport):
		slog.Warn(op+" failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("id", string(id)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListCards handles GET /cards.
//
//	@Summary		List open cards
//	@Tags			cards
//	@Produce		json
//	@Success		200		{object}	CardListResponse
//	@Security		BearerAuth
//	@Router			/cards [get]
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	views, err := h.cards.List()
	if err != nil {
		writeError(w, "list cards", "", err)
		return
	}
	writeJSON(w, http.StatusOK, CardListResponse{Cards: views, Total: len(views)})
}

// ListStored handles GET /store/cards.
//
//	@Summary		List stored cards
//	@Tags			store
//	@Produce		json
//	@Success		200		{object}	StoredListResponse
//	@Security		BearerAuth
//	@Router			/store/cards [get]
func (h *Handler) ListStored(w http.ResponseWriter, r *http.Request) {
	if h.stored == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not available"))
		return
	}
	items, err := h.stored.Summaries(r.Context())
	if err != nil {
		writeError(w, "list stored cards", "", err)
		return
	}
	writeJSON(w, http.StatusOK, StoredListResponse{Cards: items, Total: len(items)})
}

// CreateCard handles POST /cards.
//
//	@Summary		Open a new card, or reopen a stored one by id
//	@Tags			cards
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateCardRequest	false	"Card to open"
//	@Success		201		{object}	card.View
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards [post]
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateCardRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
	}
	view, err := h.cards.CreateCard(r.Context(), req.ID)
	if err != nil {
		writeError(w, "create card", req.ID, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetCard handles GET /cards/{id}.
//
//	@Summary		Get an open card
//	@Tags			cards
//	@Produce		json
//	@Param			id	path		string	true	"Card id"
//	@Success		200	{object}	card.View
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id} [get]
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)
	view, err := h.cards.Card(id)
	if err != nil {
		writeError(w, "get card", id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// StartEditing handles POST /cards/{id}/edit.
//
//	@Summary		Open the card editor
//	@Tags			cards
//	@Param			id	path		string	true	"Card id"
//	@Success		200	{object}	card.View
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/edit [post]
func (h *Handler) StartEditing(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)
	view, err := h.cards.StartEditing(r.Context(), id)
	if err != nil {
		writeError(w, "start editing", id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// FinishEditing handles DELETE /cards/{id}/edit.
//
//	@Summary		Close the card editor and save its content
//	@Tags			cards
//	@Param			id	path		string	true	"Card id"
//	@Success		200	{object}	card.View
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/edit [delete]
func (h *Handler) FinishEditing(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)
	view, err := h.cards.FinishEditing(r.Context(), id)
	if err != nil {
		writeError(w, "finish editing", id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SetStyle handles PUT /cards/{id}/style.
//
//	@Summary		Change card colors
//	@Tags			cards
//	@Accept			json
//	@Param			id		path		string			true	"Card id"
//	@Param			body	body		StyleRequest	true	"New style"
//	@Success		200		{object}	card.View
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id}/style [put]
func (h *Handler) SetStyle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := cardID(r)
	var req StyleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	view, err := h.cards.SetStyle(r.Context(), id, models.Style{
		TitleColor:        req.TitleColor,
		BackgroundColor:   req.BackgroundColor,
		BackgroundOpacity: *req.BackgroundOpacity,
	})
	if err != nil {
		writeError(w, "set style", id, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// BringToFront handles POST /cards/{id}/front.
//
//	@Summary		Focus the card window
//	@Tags			cards
//	@Param			id	path	string	true	"Card id"
//	@Success		204	"Focused"
//	@Security		BearerAuth
//	@Router			/cards/{id}/front [post]
func (h *Handler) BringToFront(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)
	if err := h.cards.BringToFront(r.Context(), id); err != nil {
		writeError(w, "bring to front", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseCard handles DELETE /cards/{id}.
//
//	@Summary		Close a card; empty cards are deleted
//	@Tags			cards
//	@Param			id		path	string	true	"Card id"
//	@Param			force	query	bool	false	"Close even if the final save fails"
//	@Success		204		"Closed"
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cards/{id} [delete]
func (h *Handler) CloseCard(w http.ResponseWriter, r *http.Request) {
	id := cardID(r)
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	confirm := func(context.Context, error) bool { return force }
	if err := h.cards.CloseCard(r.Context(), id, confirm); err != nil {
		writeError(w, "close card", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WindowEvent handles POST /cards/{id}/events.
//
//	@Summary		Report a raw window event
//	@Tags			presentation
//	@Accept			json
//	@Param			id		path	string			true	"Card id"
//	@Param			body	body	window.Event	true	"Event"
//	@Success		204		"Applied"
//	@Security		BearerAuth
//	@Router			/cards/{id}/events [post]
func (h *Handler) WindowEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	id := cardID(r)
	var ev window.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !ev.Kind.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown event kind"))
		return
	}
	if err := h.cards.HandleEvent(r.Context(), id, ev); err != nil {
		writeError(w, "window event", id, err)
		return
	}
	if ev.Kind == window.Closed && h.bridge != nil {
		h.bridge.Release(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ack handles POST /bridge/ack.
//
//	@Summary		Answer a presentation command
//	@Tags			presentation
//	@Accept			json
//	@Param			body	body	AckRequest	true	"Reply"
//	@Success		204		"Delivered"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/bridge/ack [post]
func (h *Handler) Ack(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("requestId is required"))
		return
	}
	if err := h.bridge.Ack(req.RequestID, req.Result, req.Error); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("unknown request"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Signal handles POST /bridge/signal.
//
//	@Summary		Report that a card window is ready or its content booted
//	@Tags			presentation
//	@Accept			json
//	@Param			body	body	SignalRequest	true	"Signal"
//	@Success		204		"Delivered"
//	@Security		BearerAuth
//	@Router			/bridge/signal [post]
func (h *Handler) Signal(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.bridge.Signal(req.CardID, req.Signal); err != nil {
		if errors.Is(err, apperr.ErrUnknownCard) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate checks the style request.
func (s StyleRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TitleColor, validation.Required, validation.Match(colorRe)),
		validation.Field(&s.BackgroundColor, validation.Required, validation.Match(colorRe)),
		validation.Field(&s.BackgroundOpacity, validation.NotNil, validation.Min(0.0), validation.Max(1.0)),
	)
}
