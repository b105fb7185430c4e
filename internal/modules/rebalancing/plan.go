package rebalancing

import (
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/funding"
	"github.com/aristath/rebalancer/internal/modules/margin"
)

// EntrySource tells why an order is in the plan
type EntrySource string

const (
	SourceRebalance EntrySource = "rebalance"
	SourceMinLot    EntrySource = "min_lot"
	SourceFunding   EntrySource = "funding"
)

// Entry is one order of a plan. LotDelta is negative for sells.
type Entry struct {
	Ticker       string                `json:"ticker"`
	InstrumentID string                `json:"instrument_id"`
	Direction    domain.OrderDirection `json:"direction"`
	LotDelta     int                   `json:"lot_delta"`
	ValueDelta   float64               `json:"value_delta"`
	LotPrice     float64               `json:"lot_price"`
	Priority     int                   `json:"priority"`
	Source       EntrySource           `json:"source"`
	OrderID      string                `json:"order_id"`
}

// Lots returns the absolute number of lots traded
func (e Entry) Lots() int {
	if e.LotDelta < 0 {
		return -e.LotDelta
	}
	return e.LotDelta
}

// Target is the sizing outcome for one ticker
type Target struct {
	Ticker         string  `json:"ticker"`
	InstrumentID   string  `json:"instrument_id"`
	Percent        float64 `json:"percent"`
	TargetValue    float64 `json:"target_value"`
	QuantizedValue float64 `json:"quantized_value"`
	LotSize        float64 `json:"lot_size"`
	LotPrice       float64 `json:"lot_price"`
	HeldLots       float64 `json:"held_lots"`
	TargetLots     int     `json:"target_lots"`
	Placeholder    bool    `json:"placeholder"`
}

// SkippedTicker is a desired ticker left out of the iteration
type SkippedTicker struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

// FilteredSell is a sell dropped by the minimum profit rule
type FilteredSell struct {
	Ticker        string  `json:"ticker"`
	Lots          int     `json:"lots"`
	ProfitPercent float64 `json:"profit_percent"`
}

// MarginReport carries margin diagnostics of a plan
type MarginReport struct {
	Enabled     bool                   `json:"enabled"`
	Leveraged   bool                   `json:"leveraged"`
	Available   float64                `json:"available"`
	Positions   []margin.Position      `json:"positions"`
	Limits      margin.LimitCheck      `json:"limits"`
	Cap         margin.CapCheck        `json:"cap"`
	Unwind      *margin.UnwindDecision `json:"unwind,omitempty"`
	TargetValue float64                `json:"target_value"`
}

// Plan is the ordered outcome of one assembly
type Plan struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	CreatedAt     time.Time         `json:"created_at"`
	TotalValue    float64           `json:"total_value"`
	Desired       domain.Allocation `json:"desired"`
	Entries       []Entry           `json:"entries"`
	Targets       []Target          `json:"targets"`
	Unallocated   float64           `json:"unallocated"`
	Skipped       []SkippedTicker   `json:"skipped"`
	FilteredSells []FilteredSell    `json:"filtered_sells"`
	Funding       *funding.SellPlan `json:"funding,omitempty"`
	Margin        *MarginReport     `json:"margin,omitempty"`
	Projected     domain.Allocation `json:"projected"`
}

// Sells returns the sell entries in execution order
func (p *Plan) Sells() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.Direction == domain.DirectionSell {
			out = append(out, e)
		}
	}
	return out
}

// Buys returns the buy entries in execution order
func (p *Plan) Buys() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.Direction == domain.DirectionBuy {
			out = append(out, e)
		}
	}
	return out
}

// SoldLots returns the total lots a plan sells of a ticker
func (p *Plan) SoldLots(ticker string) int {
	lots := 0
	for _, e := range p.Entries {
		if e.Ticker == ticker && e.Direction == domain.DirectionSell {
			lots += e.Lots()
		}
	}
	return lots
}

// Orders converts the entries into broker order requests in execution order
func (p *Plan) Orders() []domain.OrderRequest {
	orders := make([]domain.OrderRequest, 0, len(p.Entries))
	for _, e := range p.Entries {
		orders = append(orders, domain.OrderRequest{
			AccountID:    p.AccountID,
			Ticker:       e.Ticker,
			InstrumentID: e.InstrumentID,
			Lots:         e.Lots(),
			Direction:    e.Direction,
			OrderID:      e.OrderID,
		})
	}
	return orders
}

// Entry returns the first entry for a ticker
func (p *Plan) Entry(ticker string) (Entry, bool) {
	for _, e := range p.Entries {
		if e.Ticker == ticker {
			return e, true
		}
	}
	return Entry{}, false
}

func (p *Plan) target(ticker string) (Target, bool) {
	for _, t := range p.Targets {
		if t.Ticker == ticker {
			return t, true
		}
	}
	return Target{}, false
}
