// Package trading submits order plans to the broker and keeps their history.
package trading

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

// StatusFailed marks an order the broker did not accept
const StatusFailed = "failed"

// ExecutedOrder is the record of one submitted order
type ExecutedOrder struct {
	OrderID      string                `json:"order_id"`
	AccountID    string                `json:"account_id"`
	PlanID       string                `json:"plan_id"`
	Ticker       string                `json:"ticker"`
	InstrumentID string                `json:"instrument_id"`
	Direction    domain.OrderDirection `json:"direction"`
	Lots         int                   `json:"lots"`
	Status       string                `json:"status"`
	LotsExecuted int                   `json:"lots_executed"`
	Price        float64               `json:"price"`
	Error        string                `json:"error,omitempty"`
	ExecutedAt   time.Time             `json:"executed_at"`
}

// Report summarizes one batch of orders
type Report struct {
	PlanID    string          `json:"plan_id"`
	Submitted int             `json:"submitted"`
	Failed    int             `json:"failed"`
	Rejected  int             `json:"rejected"`
	Orders    []ExecutedOrder `json:"orders"`
	Cancelled bool            `json:"cancelled"`
}
