// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/rebalancing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// IterationRunner runs one account iteration
type IterationRunner interface {
	Run(ctx context.Context, account config.Account, opts rebalancing.RunOptions) (*rebalancing.IterationResult, error)
}

// Handler handles rebalancing HTTP requests
type Handler struct {
	accounts []config.Account
	runner   IterationRunner
	log      zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(
	accounts []config.Account,
	runner IterationRunner,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		accounts: accounts,
		runner:   runner,
		log:      log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleGetAccounts handles GET /api/accounts
func (h *Handler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"data": map[string]interface{}{
			"accounts": h.accounts,
			"count":    len(h.accounts),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandlePreview handles POST /api/rebalancing/{accountID}/preview
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	h.handleIteration(w, r, rebalancing.RunOptions{Preview: true})
}

// HandleRun handles POST /api/rebalancing/{accountID}/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	h.handleIteration(w, r, rebalancing.RunOptions{})
}

func (h *Handler) handleIteration(w http.ResponseWriter, r *http.Request, opts rebalancing.RunOptions) {
	result, ok := h.run(w, r, opts)
	if !ok {
		return
	}

	response := map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"preview":   opts.Preview,
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleGetMargin handles GET /api/margin/{accountID}
// Margin diagnostics come from a preview of the current portfolio.
func (h *Handler) HandleGetMargin(w http.ResponseWriter, r *http.Request) {
	result, ok := h.run(w, r, rebalancing.RunOptions{Preview: true})
	if !ok {
		return
	}

	data := &rebalancing.MarginReport{}
	planID := ""
	if result.Plan != nil {
		planID = result.Plan.ID
		if result.Plan.Margin != nil {
			data = result.Plan.Margin
		}
	}

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"plan_id":   planID,
		},
	}

	h.writeJSON(w, http.StatusOK, response)
}

// run resolves the account and runs an iteration, writing the error response
// itself when it fails
func (h *Handler) run(w http.ResponseWriter, r *http.Request, opts rebalancing.RunOptions) (*rebalancing.IterationResult, bool) {
	accountID := chi.URLParam(r, "accountID")

	account, ok := h.account(accountID)
	if !ok {
		http.Error(w, "Account not found", http.StatusNotFound)
		return nil, false
	}

	result, err := h.runner.Run(r.Context(), account, opts)
	if err != nil {
		if errors.Is(err, rebalancing.ErrIterationInProgress) {
			http.Error(w, "Iteration already running for this account", http.StatusConflict)
			return nil, false
		}
		var strictErr *allocation.StrictDataError
		if errors.As(err, &strictErr) {
			http.Error(w, strictErr.Error(), http.StatusUnprocessableEntity)
			return nil, false
		}
		h.log.Error().Err(err).Str("account_id", accountID).Msg("Failed to run iteration")
		http.Error(w, "Failed to run iteration", http.StatusInternalServerError)
		return nil, false
	}

	return result, true
}

func (h *Handler) account(id string) (config.Account, bool) {
	for _, a := range h.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return config.Account{}, false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
