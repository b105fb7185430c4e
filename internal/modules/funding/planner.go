// Package funding plans sells of profitable holdings that pay for purchases of
// instruments which must not be bought with borrowed money.
package funding

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// lotEpsilon absorbs float noise when converting currency to lots
const lotEpsilon = 1e-9

// Mode selects how funding sells are sized
type Mode string

const (
	ModeProfitRanked Mode = "profit_ranked"
	ModeProportional Mode = "proportional"
	ModeDisabled     Mode = "disabled"
)

// Config is the funding restriction configuration of an account
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// RestrictedTickers may only be bought with freed cash
	RestrictedTickers []string `yaml:"restricted_tickers" json:"restricted_tickers"`
	// MinRebalancePercent of total portfolio value a purchase must exceed to trigger sells
	MinRebalancePercent float64 `yaml:"min_rebalance_percent" json:"min_rebalance_percent"`
	Mode                Mode    `yaml:"mode" json:"mode"`
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Mode {
	case ModeProfitRanked, ModeProportional, ModeDisabled:
	default:
		return fmt.Errorf("unknown funding mode %q", c.Mode)
	}
	if c.MinRebalancePercent < 0 {
		return fmt.Errorf("min_rebalance_percent must be >= 0")
	}
	return nil
}

// SellSource is a holding that may be sold to raise cash
type SellSource struct {
	Ticker        string  `json:"ticker"`
	InstrumentID  string  `json:"instrument_id"`
	HeldLots      int     `json:"held_lots"`
	LotPrice      float64 `json:"lot_price"`
	Value         float64 `json:"value"`
	Profit        float64 `json:"profit"`
	ProfitPercent float64 `json:"profit_percent"`
}

// Need is the cash a restricted ticker's purchase requires
type Need struct {
	Ticker string  `json:"ticker"`
	Amount float64 `json:"amount"`
}

// SellOrder is one funding sell
type SellOrder struct {
	Ticker       string  `json:"ticker"`
	InstrumentID string  `json:"instrument_id"`
	Lots         int     `json:"lots"`
	Value        float64 `json:"value"`
}

// SellPlan is the outcome of SellPlan. A positive Shortfall means the sources
// could not cover the need.
type SellPlan struct {
	Mode        Mode        `json:"mode"`
	Orders      []SellOrder `json:"orders"`
	TotalNeeded float64     `json:"total_needed"`
	Covered     float64     `json:"covered"`
	Shortfall   float64     `json:"shortfall"`
}

// LotsFor returns the lots the plan sells of a ticker
func (p SellPlan) LotsFor(ticker string) int {
	lots := 0
	for _, o := range p.Orders {
		if o.Ticker == ticker {
			lots += o.Lots
		}
	}
	return lots
}

// Planner implements the funding rules of one account
type Planner struct {
	cfg        Config
	restricted map[string]bool
	log        zerolog.Logger
}

// NewPlanner creates a new funding planner. Restricted tickers are canonicalized.
func NewPlanner(cfg Config, canonicalize *domain.Canonicalizer, log zerolog.Logger) *Planner {
	restricted := make(map[string]bool, len(cfg.RestrictedTickers))
	for _, t := range cfg.RestrictedTickers {
		restricted[canonicalize.Canonical(t)] = true
	}
	return &Planner{
		cfg:        cfg,
		restricted: restricted,
		log:        log.With().Str("service", "funding").Logger(),
	}
}

// Enabled reports whether funding restriction applies
func (p *Planner) Enabled() bool {
	return p.cfg.Enabled && len(p.restricted) > 0
}

// Mode returns the configured sell mode
func (p *Planner) Mode() Mode {
	return p.cfg.Mode
}

// IsRestricted reports whether a canonical ticker is funding-restricted
func (p *Planner) IsRestricted(ticker string) bool {
	return p.restricted[ticker]
}

// EligibleSellSources returns non-cash, unrestricted holdings with a strictly
// positive unrealized profit, most profitable first. Holdings without a cost
// basis are excluded.
func (p *Planner) EligibleSellSources(wallet domain.Wallet) []SellSource {
	var sources []SellSource
	for _, pos := range wallet {
		if pos.IsCash() || p.restricted[pos.Base] {
			continue
		}
		held := pos.WholeLots()
		if held <= 0 || pos.LotPrice() <= 0 {
			continue
		}
		profit, percent, ok := pos.Profit()
		if !ok || profit <= 0 {
			continue
		}
		sources = append(sources, SellSource{
			Ticker:        pos.Base,
			InstrumentID:  pos.InstrumentID,
			HeldLots:      held,
			LotPrice:      pos.LotPrice(),
			Value:         float64(held) * pos.LotPrice(),
			Profit:        profit,
			ProfitPercent: percent,
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].Profit != sources[j].Profit {
			return sources[i].Profit > sources[j].Profit
		}
		return sources[i].Ticker < sources[j].Ticker
	})
	return sources
}

// RequiredFunds returns the unleveraged purchase requirement of every restricted
// ticker whose requirement exceeds MinRebalancePercent of the portfolio value.
func (p *Planner) RequiredFunds(wallet domain.Wallet, desired domain.Allocation) []Need {
	total := wallet.TotalValue()
	threshold := total * p.cfg.MinRebalancePercent / 100
	normalized := allocation.Normalize(desired)

	var needs []Need
	for ticker, pct := range normalized {
		if !p.restricted[ticker] {
			continue
		}
		current := 0.0
		if i := wallet.Find(ticker); i >= 0 {
			current = wallet[i].TotalValue()
		}
		need := total*pct/100 - current
		if need <= 0 {
			continue
		}
		if need <= threshold {
			p.log.Debug().
				Str("ticker", ticker).
				Float64("need", need).
				Float64("threshold", threshold).
				Msg("Purchase below rebalance threshold, no funding sells")
			continue
		}
		needs = append(needs, Need{Ticker: ticker, Amount: need})
	}

	sort.Slice(needs, func(i, j int) bool { return needs[i].Ticker < needs[j].Ticker })
	return needs
}

// SellPlan sizes sells covering the needs. A negative cash balance is covered on
// top of the purchases, a positive one reduces what must be raised. The inputs
// are not modified.
func (p *Planner) SellPlan(sources []SellSource, needs []Need, mode Mode, cash float64) SellPlan {
	purchases := 0.0
	for _, n := range needs {
		purchases += n.Amount
	}

	var totalNeeded float64
	if cash < 0 {
		totalNeeded = -cash + purchases
	} else {
		totalNeeded = purchases - cash
	}

	plan := SellPlan{Mode: mode, Orders: []SellOrder{}}
	if totalNeeded <= 0 {
		return plan
	}
	plan.TotalNeeded = totalNeeded

	switch mode {
	case ModeProfitRanked:
		plan.Orders, plan.Covered = profitRanked(sources, totalNeeded)
	case ModeProportional:
		plan.Orders, plan.Covered = proportional(sources, totalNeeded)
	default:
		// disabled or unknown: nothing is sold
	}

	plan.Shortfall = math.Max(0, totalNeeded-plan.Covered)
	if plan.Shortfall > 0 {
		p.log.Warn().
			Str("mode", string(mode)).
			Float64("needed", totalNeeded).
			Float64("covered", plan.Covered).
			Float64("shortfall", plan.Shortfall).
			Msg("Funding sources cannot cover purchases")
	}
	return plan
}

func profitRanked(sources []SellSource, needed float64) ([]SellOrder, float64) {
	orders := []SellOrder{}
	remaining := needed
	covered := 0.0

	for _, s := range sources {
		if remaining <= 0 {
			break
		}
		lots := int(math.Ceil(remaining/s.LotPrice - lotEpsilon))
		if lots > s.HeldLots {
			lots = s.HeldLots
		}
		if lots <= 0 {
			continue
		}
		value := float64(lots) * s.LotPrice
		orders = append(orders, SellOrder{Ticker: s.Ticker, InstrumentID: s.InstrumentID, Lots: lots, Value: value})
		covered += value
		remaining -= value
	}
	return orders, covered
}

func proportional(sources []SellSource, needed float64) ([]SellOrder, float64) {
	orders := []SellOrder{}
	eligible := 0.0
	for _, s := range sources {
		eligible += s.Value
	}
	if eligible <= 0 {
		return orders, 0
	}

	sellAll := needed >= eligible
	covered := 0.0
	for _, s := range sources {
		lots := s.HeldLots
		if !sellAll {
			share := needed * s.Value / eligible
			lots = int(math.Floor(share/s.LotPrice + lotEpsilon))
			if lots > s.HeldLots {
				lots = s.HeldLots
			}
		}
		if lots <= 0 {
			continue
		}
		value := float64(lots) * s.LotPrice
		orders = append(orders, SellOrder{Ticker: s.Ticker, InstrumentID: s.InstrumentID, Lots: lots, Value: value})
		covered += value
	}
	return orders, covered
}
