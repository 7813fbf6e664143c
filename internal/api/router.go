package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Cards.
	r.Get("/cards", h.ListCards)
	r.Post("/cards", h.CreateCard)
	r.Route("/cards/{id}", func(r chi.Router) {
		r.Get("/", h.GetCard)
		r.Delete("/", h.CloseCard)
		r.Post("/edit", h.StartEditing)
		r.Delete("/edit", h.FinishEditing)
		r.Put("/style", h.SetStyle)
		r.Post("/front", h.BringToFront)
		r.Post("/events", h.WindowEvent)
	})

	// Stored records, open or not.
	r.Get("/store/cards", h.ListStored)

	// Presentation replies.
	if h.bridge != nil {
		r.Post("/bridge/ack", h.Ack)
		r.Post("/bridge/signal", h.Signal)
	}

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
