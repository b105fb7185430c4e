// Package handlers provides HTTP handlers for market hours operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Handler handles market hours HTTP requests
type Handler struct {
	service *market_hours.Service
	now     func() time.Time
	log     zerolog.Logger
}

// NewHandler creates a new market hours handler
func NewHandler(service *market_hours.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		now:     time.Now,
		log:     log.With().Str("handler", "market_hours").Logger(),
	}
}

// HandleGetStatus handles GET /api/market-hours/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	response := map[string]interface{}{
		"data": h.service.GetMarketStatus(now),
		"metadata": map[string]interface{}{
			"timestamp": now.Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetHolidays handles GET /api/market-hours/holidays?year=YYYY
func (h *Handler) HandleGetHolidays(w http.ResponseWriter, r *http.Request) {
	year := h.now().Year()
	if yearStr := r.URL.Query().Get("year"); yearStr != "" {
		parsedYear, err := strconv.Atoi(yearStr)
		if err != nil || parsedYear <= 0 {
			http.Error(w, "year must be a positive integer", http.StatusBadRequest)
			return
		}
		year = parsedYear
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"exchange": h.service.Exchange().Code,
			"year":     year,
			"holidays": h.service.Holidays(year),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetCloseTime handles GET /api/market-hours/close?date=YYYY-MM-DD&override=HH:MM
// It reports when the session closes, the deadline the margin unwind gate uses.
func (h *Handler) HandleGetCloseTime(w http.ResponseWriter, r *http.Request) {
	loc := h.service.Exchange().Timezone
	day := h.now().In(loc)
	if dateStr := r.URL.Query().Get("date"); dateStr != "" {
		parsed, err := time.ParseInLocation("2006-01-02", dateStr, loc)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed.Add(12 * time.Hour)
	}

	override := r.URL.Query().Get("override")
	closeAt, err := h.service.CloseTime(day, override)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := map[string]interface{}{
		"data": map[string]interface{}{
			"exchange":    h.service.Exchange().Code,
			"trading_day": h.service.IsTradingDay(day),
			"closes_at":   closeAt.Format(time.RFC3339),
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
