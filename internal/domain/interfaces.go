package domain

import (
	"context"
	"errors"
)

// ErrInstrumentNotFound is returned when a ticker has no tradable instrument
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrPriceUnavailable is returned when no last price is known for an instrument
var ErrPriceUnavailable = errors.New("price unavailable")

// BrokerClient defines the broker operations the rebalancer consumes.
// Implementations must be safe to call sequentially from one iteration.
type BrokerClient interface {
	// GetPortfolio returns positions and cash balances of an account
	GetPortfolio(ctx context.Context, accountID string) (Wallet, error)

	// ListInstruments returns the tradable instrument catalog
	ListInstruments(ctx context.Context) ([]Instrument, error)

	// GetLastPrices returns last known prices keyed by instrument id
	GetLastPrices(ctx context.Context, instrumentIDs []string) (map[string]float64, error)

	// PlaceOrder submits a market order for a number of lots
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// InstrumentCatalog is a read-only per-iteration view over instruments and prices
type InstrumentCatalog interface {
	FindInstrument(ctx context.Context, ticker string) (Instrument, error)
	LastPrice(ctx context.Context, instrumentID string) (float64, error)
}

// OrderRequest is a single market order
type OrderRequest struct {
	AccountID    string         `json:"account_id"`
	Ticker       string         `json:"ticker"`
	InstrumentID string         `json:"instrument_id"`
	Lots         int            `json:"lots"`
	Direction    OrderDirection `json:"direction"`
	OrderID      string         `json:"order_id"` // idempotency key
}

// OrderResult is the broker acknowledgement of an order
type OrderResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	LotsExecuted int     `json:"lots_executed"`
	Price        float64 `json:"price"`
}

// CurrencyRateProvider converts currencies into the home currency
type CurrencyRateProvider interface {
	GetRate(fromCurrency, toCurrency string) (float64, error)
}
