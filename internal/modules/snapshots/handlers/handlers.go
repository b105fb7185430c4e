// Package handlers provides HTTP handlers for allocation snapshots.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles snapshot HTTP requests
type Handler struct {
	store    snapshots.Store
	location *time.Location
	log      zerolog.Logger
}

// NewHandler creates a new snapshot handler. location decides what "today" is.
func NewHandler(store snapshots.Store, location *time.Location, log zerolog.Logger) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		store:    store,
		location: location,
		log:      log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleGetSnapshot handles GET /api/snapshots/{accountID}?date=YYYY-MM-DD
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	date := r.URL.Query().Get("date")
	if date == "" {
		date = snapshots.DateKey(time.Now().In(h.location))
	} else if _, err := time.Parse(snapshots.DateLayout, date); err != nil {
		h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	snapshot, err := h.store.Read(r.Context(), accountID, date)
	if err != nil {
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to read snapshot")
		h.writeError(w, http.StatusInternalServerError, "failed to read snapshot")
		return
	}
	if snapshot == nil {
		h.writeError(w, http.StatusNotFound, "no snapshot for this date")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": snapshot,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
