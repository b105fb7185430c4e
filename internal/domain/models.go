// Package domain provides core domain models and types.
package domain

import "math"

// Currency represents a currency code
type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// OrderDirection is the side of an order
type OrderDirection string

const (
	DirectionBuy  OrderDirection = "BUY"
	DirectionSell OrderDirection = "SELL"
)

// Position represents one wallet line. Positions whose base equals the quote
// currency are cash balances.
type Position struct {
	Base             string   `json:"base"`
	Quote            string   `json:"quote"`
	InstrumentID     string   `json:"instrument_id"`
	Quantity         float64  `json:"quantity"` // units, not lots
	LotSize          float64  `json:"lot_size"`
	Price            float64  `json:"price"`
	AveragePrice     *float64 `json:"average_price,omitempty"`
	AveragePriceFIFO *float64 `json:"average_price_fifo,omitempty"`
}

// IsCash reports whether the position is a currency balance
func (p Position) IsCash() bool {
	return p.Base == p.Quote
}

// TotalValue returns price × quantity
func (p Position) TotalValue() float64 {
	return p.Price * p.Quantity
}

// LotPrice returns the price of one tradable lot
func (p Position) LotPrice() float64 {
	return p.Price * p.effectiveLotSize()
}

// Lots returns the held quantity expressed in lots (may be fractional)
func (p Position) Lots() float64 {
	return p.Quantity / p.effectiveLotSize()
}

// WholeLots returns the number of complete lots held
func (p Position) WholeLots() int {
	return int(math.Floor(p.Lots() + 1e-9))
}

// CostBasis returns the per-unit acquisition price, preferring FIFO over the
// simple average. The second return value is false when neither is known.
func (p Position) CostBasis() (float64, bool) {
	if p.AveragePriceFIFO != nil && *p.AveragePriceFIFO > 0 {
		return *p.AveragePriceFIFO, true
	}
	if p.AveragePrice != nil && *p.AveragePrice > 0 {
		return *p.AveragePrice, true
	}
	return 0, false
}

// Profit returns the unrealized profit amount and percentage.
// ok is false when the cost basis is unknown.
func (p Position) Profit() (amount float64, percent float64, ok bool) {
	basis, ok := p.CostBasis()
	if !ok {
		return 0, 0, false
	}
	cost := basis * p.Quantity
	amount = p.TotalValue() - cost
	if cost > 0 {
		percent = amount / cost * 100
	}
	return amount, percent, true
}

func (p Position) effectiveLotSize() float64 {
	if p.LotSize <= 0 {
		return 1
	}
	return p.LotSize
}

// Wallet is the full set of positions of one account
type Wallet []Position

// TotalValue sums every position including cash
func (w Wallet) TotalValue() float64 {
	total := 0.0
	for _, p := range w {
		total += p.TotalValue()
	}
	return total
}

// CashBalance sums cash positions only
func (w Wallet) CashBalance() float64 {
	total := 0.0
	for _, p := range w {
		if p.IsCash() {
			total += p.TotalValue()
		}
	}
	return total
}

// NonCashValue sums every non-cash position
func (w Wallet) NonCashValue() float64 {
	return w.TotalValue() - w.CashBalance()
}

// Find returns the index of the position with the given base ticker, or -1
func (w Wallet) Find(base string) int {
	for i, p := range w {
		if p.Base == base {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the wallet
func (w Wallet) Clone() Wallet {
	out := make(Wallet, len(w))
	for i, p := range w {
		cp := p
		if p.AveragePrice != nil {
			v := *p.AveragePrice
			cp.AveragePrice = &v
		}
		if p.AveragePriceFIFO != nil {
			v := *p.AveragePriceFIFO
			cp.AveragePriceFIFO = &v
		}
		out[i] = cp
	}
	return out
}

// Allocation maps a ticker to its percentage of the portfolio
type Allocation map[string]float64

// Clone returns a copy of the allocation
func (a Allocation) Clone() Allocation {
	out := make(Allocation, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Instrument is the tradable metadata of a ticker
type Instrument struct {
	ID       string  `json:"id"`
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	LotSize  float64 `json:"lot_size"`
	Currency string  `json:"currency"`
}

// Float64Ptr returns a pointer to v
func Float64Ptr(v float64) *float64 {
	return &v
}
