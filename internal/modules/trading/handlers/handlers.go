// Package handlers provides HTTP handlers for order history.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/modules/trading"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// OrderHistory lists submitted orders
type OrderHistory interface {
	GetHistory(ctx context.Context, accountID string, limit int) ([]trading.ExecutedOrder, error)
}

// Handler handles trading HTTP requests
type Handler struct {
	history OrderHistory
	log     zerolog.Logger
}

// NewHandler creates a new trading handler
func NewHandler(history OrderHistory, log zerolog.Logger) *Handler {
	return &Handler{
		history: history,
		log:     log.With().Str("handler", "trading").Logger(),
	}
}

// HandleGetOrders handles GET /api/trades/{accountID}?limit=N
func (h *Handler) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	orders, err := h.history.GetHistory(r.Context(), accountID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get order history")
		http.Error(w, "Failed to get order history", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"orders": orders,
			"count":  len(orders),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
