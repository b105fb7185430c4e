package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts", h.HandleGetAccounts)

	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/{accountID}/preview", h.HandlePreview)
		r.Post("/{accountID}/run", h.HandleRun)
	})

	r.Route("/margin", func(r chi.Router) {
		r.Get("/{accountID}", h.HandleGetMargin)
	})
}
