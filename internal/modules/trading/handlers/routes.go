package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all trading routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/trades", func(r chi.Router) {
		r.Get("/{accountID}", h.HandleGetOrders)
	})
}
