// Package margin sizes leveraged positions and decides when borrowed exposure
// should be unwound before the trading session closes.
package margin

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// TransferCostRate is the overnight carrying cost of a position above the free threshold
const TransferCostRate = 0.01

// CloseProximity always opens the unwind gate this close to the market close
const CloseProximity = 15 * time.Minute

// Risk thresholds on the used/available margin ratio
const (
	highRiskUsage   = 0.8
	mediumRiskUsage = 0.6
)

// Strategy decides what happens to margin positions at the end of the session
type Strategy string

const (
	StrategyAlwaysRemove         Strategy = "always_remove"
	StrategyAlwaysKeep           Strategy = "always_keep"
	StrategyKeepIfBelowThreshold Strategy = "keep_if_below_threshold"
)

// RiskLevel classifies margin usage
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Config is the margin configuration of an account
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Multiplier is the leverage factor, at least 1
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// FreeThreshold is the position value up to which carrying margin overnight is free
	FreeThreshold float64 `yaml:"free_threshold" json:"free_threshold"`
	// MaxMarginSize caps total margin exposure. Zero means no cap.
	MaxMarginSize float64  `yaml:"max_margin_size" json:"max_margin_size"`
	Strategy      Strategy `yaml:"strategy" json:"strategy"`
}

// Validate checks the configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("margin multiplier must be >= 1, got %v", c.Multiplier)
	}
	switch c.Strategy {
	case StrategyAlwaysRemove, StrategyAlwaysKeep, StrategyKeepIfBelowThreshold:
	default:
		return fmt.Errorf("unknown margin strategy %q", c.Strategy)
	}
	return nil
}

// PositionSize is the sizing of one ticker
type PositionSize struct {
	BaseSize   float64 `json:"base_size"`
	TotalSize  float64 `json:"total_size"`
	MarginSize float64 `json:"margin_size"`
}

// Position is a holding's exposure beyond its unleveraged share
type Position struct {
	Ticker      string  `json:"ticker"`
	TotalValue  float64 `json:"total_value"`
	MarginValue float64 `json:"margin_value"`
	IsMargin    bool    `json:"is_margin"`
}

// LimitCheck compares used margin with what the multiplier allows
type LimitCheck struct {
	Available  float64   `json:"available"`
	Used       float64   `json:"used"`
	Remaining  float64   `json:"remaining"`
	UsageRatio float64   `json:"usage_ratio"`
	Risk       RiskLevel `json:"risk"`
	Valid      bool      `json:"valid"`
}

// CapCheck compares total margin with the configured cap
type CapCheck struct {
	Configured     bool    `json:"configured"`
	Cap            float64 `json:"cap"`
	Total          float64 `json:"total"`
	ExceededAmount float64 `json:"exceeded_amount"`
	Valid          bool    `json:"valid"`
}

// PositionCost is the overnight cost of one position
type PositionCost struct {
	Ticker     string  `json:"ticker"`
	TotalValue float64 `json:"total_value"`
	Cost       float64 `json:"cost"`
	Free       bool    `json:"free"`
}

// TransferCostReport aggregates overnight carrying costs
type TransferCostReport struct {
	TotalCost  float64        `json:"total_cost"`
	TotalValue float64        `json:"total_value"`
	FreeCount  int            `json:"free_count"`
	PaidCount  int            `json:"paid_count"`
	Breakdown  []PositionCost `json:"breakdown"`
}

// Action is the outcome of an unwind decision
type Action string

const (
	ActionNone   Action = "none"
	ActionKeep   Action = "keep"
	ActionRemove Action = "remove"
)

// UnwindDecision says whether margin positions should be closed now
type UnwindDecision struct {
	Action       Action              `json:"action"`
	Reason       string              `json:"reason"`
	TotalMargin  float64             `json:"total_margin"`
	TransferCost *TransferCostReport `json:"transfer_cost,omitempty"`
}

// Planner implements margin sizing and policy for one account
type Planner struct {
	cfg Config
	log zerolog.Logger
}

// NewPlanner creates a new margin planner
func NewPlanner(cfg Config, log zerolog.Logger) *Planner {
	return &Planner{
		cfg: cfg,
		log: log.With().Str("service", "margin").Logger(),
	}
}

// Config returns the planner configuration
func (p *Planner) Config() Config {
	return p.cfg
}

// multiplier is the effective leverage: 1 when margin is disabled
func (p *Planner) multiplier() float64 {
	if !p.cfg.Enabled || p.cfg.Multiplier < 1 {
		return 1
	}
	return p.cfg.Multiplier
}

// AvailableMargin is the extra exposure the multiplier allows on current holdings
func (p *Planner) AvailableMargin(wallet domain.Wallet) float64 {
	return wallet.TotalValue() * (p.multiplier() - 1)
}

// OptimalPositionSizes returns unleveraged and leveraged target values per ticker
func (p *Planner) OptimalPositionSizes(wallet domain.Wallet, desired domain.Allocation) map[string]PositionSize {
	total := wallet.TotalValue()
	target := total * p.multiplier()

	sizes := make(map[string]PositionSize, len(desired))
	for ticker, pct := range allocation.Normalize(desired) {
		base := total * pct / 100
		leveraged := target * pct / 100
		sizes[ticker] = PositionSize{
			BaseSize:   base,
			TotalSize:  leveraged,
			MarginSize: math.Max(0, leveraged-base),
		}
	}
	return sizes
}

// IdentifyMarginPositions reports, per non-cash holding, the value held above its
// unleveraged share of the portfolio. Tickers absent from desired have a zero share.
func (p *Planner) IdentifyMarginPositions(wallet domain.Wallet, desired domain.Allocation) []Position {
	total := wallet.TotalValue()
	normalized := allocation.Normalize(desired)

	positions := make([]Position, 0, len(wallet))
	for _, pos := range wallet {
		if pos.IsCash() {
			continue
		}
		value := pos.TotalValue()
		share := total * normalized[pos.Base] / 100
		excess := math.Max(0, value-share)
		positions = append(positions, Position{
			Ticker:      pos.Base,
			TotalValue:  value,
			MarginValue: excess,
			IsMargin:    excess > 0,
		})
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })
	return positions
}

// CheckLimits compares margin used by flagged positions with the available margin
func (p *Planner) CheckLimits(wallet domain.Wallet, positions []Position) LimitCheck {
	available := p.AvailableMargin(wallet)

	used := 0.0
	for _, pos := range positions {
		if pos.IsMargin {
			used += pos.MarginValue
		}
	}

	ratio := 0.0
	switch {
	case available > 0:
		ratio = used / available
	case used > 0:
		ratio = 1
	}

	risk := RiskLow
	switch {
	case ratio > highRiskUsage:
		risk = RiskHigh
	case ratio > mediumRiskUsage:
		risk = RiskMedium
	}

	remaining := available - used
	return LimitCheck{
		Available:  available,
		Used:       used,
		Remaining:  remaining,
		UsageRatio: ratio,
		Risk:       risk,
		Valid:      remaining >= 0,
	}
}

// ValidateAgainstCap checks total margin against maxMarginSize. A cap <= 0 is not configured.
func (p *Planner) ValidateAgainstCap(positions []Position, maxMarginSize float64) CapCheck {
	total := totalMargin(positions)
	check := CapCheck{Cap: maxMarginSize, Total: total, Valid: true}
	if maxMarginSize <= 0 {
		return check
	}

	check.Configured = true
	if total > maxMarginSize {
		check.Valid = false
		check.ExceededAmount = total - maxMarginSize
	}
	return check
}

// TransferCost prices carrying the positions overnight: free up to freeThreshold,
// otherwise TransferCostRate of the position value.
func (p *Planner) TransferCost(positions []Position, freeThreshold float64) TransferCostReport {
	report := TransferCostReport{Breakdown: make([]PositionCost, 0, len(positions))}

	for _, pos := range positions {
		item := PositionCost{Ticker: pos.Ticker, TotalValue: pos.TotalValue}
		if pos.TotalValue <= freeThreshold {
			item.Free = true
			report.FreeCount++
		} else {
			item.Cost = pos.TotalValue * TransferCostRate
			report.PaidCount++
		}
		report.TotalCost += item.Cost
		report.TotalValue += pos.TotalValue
		report.Breakdown = append(report.Breakdown, item)
	}

	return report
}

// UnwindDecision decides whether margin positions should be removed now.
// The decision is only made past the close, within one balancing interval of
// it, or within CloseProximity of it.
func (p *Planner) UnwindDecision(
	positions []Position,
	strategy Strategy,
	now time.Time,
	balanceInterval time.Duration,
	marketClose time.Time,
) UnwindDecision {
	total := totalMargin(positions)
	untilClose := marketClose.Sub(now)

	gateOpen := untilClose <= 0 || untilClose <= balanceInterval || untilClose <= CloseProximity
	if !gateOpen {
		return UnwindDecision{
			Action:      ActionNone,
			TotalMargin: total,
			Reason:      fmt.Sprintf("not yet time: %s until market close", untilClose.Round(time.Minute)),
		}
	}

	remove := func(reason string) UnwindDecision {
		cost := p.TransferCost(positions, p.cfg.FreeThreshold)
		return UnwindDecision{Action: ActionRemove, Reason: reason, TotalMargin: total, TransferCost: &cost}
	}

	var decision UnwindDecision
	switch strategy {
	case StrategyAlwaysRemove:
		decision = remove("strategy always_remove: closing margin before market close")
	case StrategyAlwaysKeep:
		decision = UnwindDecision{Action: ActionKeep, TotalMargin: total, Reason: "strategy always_keep: carrying margin overnight"}
	case StrategyKeepIfBelowThreshold:
		capCheck := p.ValidateAgainstCap(positions, p.cfg.MaxMarginSize)
		switch {
		case !capCheck.Configured:
			decision = UnwindDecision{Action: ActionKeep, TotalMargin: total, Reason: "no margin cap configured: keeping margin"}
		case !capCheck.Valid:
			decision = remove(fmt.Sprintf("margin %.2f exceeds cap %.2f by %.2f", total, capCheck.Cap, capCheck.ExceededAmount))
		default:
			decision = UnwindDecision{Action: ActionKeep, TotalMargin: total, Reason: fmt.Sprintf("margin %.2f within cap %.2f", total, capCheck.Cap)}
		}
	default:
		decision = UnwindDecision{Action: ActionNone, TotalMargin: total, Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	p.log.Info().
		Str("strategy", string(strategy)).
		Str("action", string(decision.Action)).
		Float64("total_margin", total).
		Msg(decision.Reason)

	return decision
}

func totalMargin(positions []Position) float64 {
	total := 0.0
	for _, pos := range positions {
		total += pos.MarginValue
	}
	return total
}
