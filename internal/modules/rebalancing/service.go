// Package rebalancing turns a desired allocation and a wallet into an ordered,
// lot-bounded order plan and runs account iterations end to end.
package rebalancing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/internal/modules/allocation"
	"github.com/aristath/rebalancer/internal/modules/funding"
	"github.com/aristath/rebalancer/internal/modules/margin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// lotEpsilon absorbs float noise when converting values to lots
const lotEpsilon = 1e-9

// Request is the input of one assembly. Margin and Funding are optional.
type Request struct {
	AccountID string
	Wallet    domain.Wallet
	Desired   domain.Allocation
	Catalog   domain.InstrumentCatalog
	Margin    *margin.Planner
	Funding   *funding.Planner
	// MinProfitPercent drops sells below this profit percentage when set
	MinProfitPercent *float64
	// Unwind forces unleveraged sizing when it removes margin
	Unwind *margin.UnwindDecision
}

// Service assembles order plans
type Service struct {
	canonicalize *domain.Canonicalizer
	homeCurrency string
	log          zerolog.Logger
}

// NewService creates a new rebalancing service
func NewService(canonicalize *domain.Canonicalizer, homeCurrency string, log zerolog.Logger) *Service {
	if homeCurrency == "" {
		homeCurrency = string(domain.CurrencyRUB)
	}
	return &Service{
		canonicalize: canonicalize,
		homeCurrency: homeCurrency,
		log:          log.With().Str("service", "rebalancing").Logger(),
	}
}

// Assemble builds the order plan for one account. It never modifies the request.
// The only error besides a missing catalog is a plan that would sell more lots
// than held.
func (s *Service) Assemble(ctx context.Context, req Request) (*Plan, error) {
	if req.Catalog == nil {
		return nil, fmt.Errorf("instrument catalog is required")
	}

	log := s.log.With().Str("account_id", req.AccountID).Logger()

	desired := allocation.Normalize(s.canonicalize.Allocation(req.Desired))
	wallet := s.canonicalize.Wallet(req.Wallet)
	for _, pos := range wallet {
		if pos.IsCash() {
			continue
		}
		if _, ok := desired[pos.Base]; !ok {
			desired[pos.Base] = 0
		}
	}

	plan := &Plan{
		ID:            uuid.NewString(),
		AccountID:     req.AccountID,
		CreatedAt:     time.Now().UTC(),
		Desired:       desired,
		Entries:       []Entry{},
		Targets:       []Target{},
		Skipped:       []SkippedTicker{},
		FilteredSells: []FilteredSell{},
	}

	placeholders := make(map[string]bool)
	for _, ticker := range sortedTickers(desired) {
		// zero weights need no position to hold zero
		if desired[ticker] <= 0 || wallet.Find(ticker) >= 0 {
			continue
		}
		pos, err := s.placeholder(ctx, req.Catalog, ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("Skipping ticker for this iteration")
			plan.Skipped = append(plan.Skipped, SkippedTicker{Ticker: ticker, Reason: err.Error()})
			continue
		}
		wallet = append(wallet, pos)
		placeholders[ticker] = true
	}

	total := wallet.TotalValue()
	plan.TotalValue = total

	marginOn := req.Margin != nil && req.Margin.Config().Enabled
	leveraged := marginOn && !(req.Unwind != nil && req.Unwind.Action == margin.ActionRemove)
	fundingOn := req.Funding != nil && req.Funding.Enabled()

	var sizes map[string]margin.PositionSize
	if leveraged {
		sizes = req.Margin.OptimalPositionSizes(wallet, desired)
	}
	targetValue := func(ticker string) float64 {
		// funding-restricted purchases are never financed with margin
		if !leveraged || (fundingOn && req.Funding.IsRestricted(ticker)) {
			return total * desired[ticker] / 100
		}
		return sizes[ticker].TotalSize
	}

	var sells, buys []Entry
	for _, pos := range sortedPositions(wallet) {
		if pos.IsCash() {
			continue
		}
		lotPrice := pos.LotPrice()
		if lotPrice <= 0 {
			log.Warn().Str("ticker", pos.Base).Msg("No price for position, leaving it out of the plan")
			plan.Skipped = append(plan.Skipped, SkippedTicker{Ticker: pos.Base, Reason: "no price"})
			continue
		}

		pct := desired[pos.Base]
		value := targetValue(pos.Base)
		affordable := int(math.Floor(value/lotPrice + lotEpsilon))
		if affordable < 0 {
			affordable = 0
		}
		quantized := float64(affordable) * lotPrice
		plan.Unallocated += value - quantized

		held := pos.Lots()
		delta := float64(affordable) - held
		source := SourceRebalance
		if pct > 0 && held < 1 && delta < 1 {
			delta = 1
			source = SourceMinLot
		}

		plan.Targets = append(plan.Targets, Target{
			Ticker:         pos.Base,
			InstrumentID:   pos.InstrumentID,
			Percent:        pct,
			TargetValue:    value,
			QuantizedValue: quantized,
			LotSize:        pos.LotSize,
			LotPrice:       lotPrice,
			HeldLots:       held,
			TargetLots:     affordable,
			Placeholder:    placeholders[pos.Base],
		})

		switch {
		case delta <= -1+lotEpsilon:
			lots := int(math.Floor(-delta + lotEpsilon))
			if whole := pos.WholeLots(); lots > whole {
				lots = whole
			}
			if lots > 0 {
				sells = append(sells, newEntry(pos, -lots, source))
			}
		case delta >= 1-lotEpsilon:
			buys = append(buys, newEntry(pos, int(math.Floor(delta+lotEpsilon)), source))
		}
	}

	if req.MinProfitPercent != nil {
		threshold := *req.MinProfitPercent
		kept := make([]Entry, 0, len(sells))
		for _, e := range sells {
			pos := wallet[wallet.Find(e.Ticker)]
			_, percent, ok := pos.Profit()
			if ok && percent < threshold {
				log.Info().
					Str("ticker", e.Ticker).
					Float64("profit_percent", percent).
					Float64("threshold", threshold).
					Msg("Sell below minimum profit, dropping it")
				plan.FilteredSells = append(plan.FilteredSells, FilteredSell{Ticker: e.Ticker, Lots: e.Lots(), ProfitPercent: percent})
				continue
			}
			kept = append(kept, e)
		}
		sells = kept
	}

	if fundingOn {
		sells = s.addFundingSells(plan, req, wallet, desired, sells, buys)
	}

	if err := checkNoShort(wallet, sells); err != nil {
		return nil, err
	}

	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].ValueDelta != sells[j].ValueDelta {
			return sells[i].ValueDelta < sells[j].ValueDelta
		}
		return sells[i].Ticker < sells[j].Ticker
	})
	sort.SliceStable(buys, func(i, j int) bool {
		if buys[i].LotPrice != buys[j].LotPrice {
			return buys[i].LotPrice > buys[j].LotPrice
		}
		return buys[i].Ticker < buys[j].Ticker
	})
	plan.Entries = append(plan.Entries, sells...)
	plan.Entries = append(plan.Entries, buys...)
	for i := range plan.Entries {
		plan.Entries[i].Priority = i
		plan.Entries[i].OrderID = orderID(plan.ID, i)
	}

	if marginOn {
		plan.Margin = s.marginReport(req, wallet, desired, leveraged)
		metrics.MarginUsage.WithLabelValues(req.AccountID).Set(plan.Margin.Limits.UsageRatio)
	}
	if len(plan.Skipped) > 0 {
		metrics.SkippedTickers.WithLabelValues(req.AccountID).Add(float64(len(plan.Skipped)))
	}

	plan.Projected = FinalPercentages(s.SimulateExecution(wallet, plan))

	log.Info().
		Str("plan_id", plan.ID).
		Int("sells", len(sells)).
		Int("buys", len(buys)).
		Int("skipped", len(plan.Skipped)).
		Float64("total_value", total).
		Float64("unallocated", plan.Unallocated).
		Bool("leveraged", leveraged).
		Msg("Assembled order plan")

	return plan, nil
}

// addFundingSells plans sells that pay for funding-restricted purchases.
// Tickers that already have an entry or a filtered sell are never funding
// sources, so a position is sold at most once per plan.
func (s *Service) addFundingSells(
	plan *Plan,
	req Request,
	wallet domain.Wallet,
	desired domain.Allocation,
	sells, buys []Entry,
) []Entry {
	needs := req.Funding.RequiredFunds(wallet, desired)
	if len(needs) == 0 {
		return sells
	}

	scheduled := make(map[string]bool)
	for _, e := range sells {
		scheduled[e.Ticker] = true
	}
	for _, e := range buys {
		scheduled[e.Ticker] = true
	}
	for _, f := range plan.FilteredSells {
		scheduled[f.Ticker] = true
	}

	var sources []funding.SellSource
	for _, src := range req.Funding.EligibleSellSources(wallet) {
		if !scheduled[src.Ticker] {
			sources = append(sources, src)
		}
	}

	// freed cash: balance plus planned sell proceeds minus unrestricted purchases
	cash := wallet.CashBalance()
	for _, e := range sells {
		cash -= e.ValueDelta
	}
	for _, e := range buys {
		if !req.Funding.IsRestricted(e.Ticker) {
			cash -= e.ValueDelta
		}
	}

	sellPlan := req.Funding.SellPlan(sources, needs, req.Funding.Mode(), cash)
	plan.Funding = &sellPlan
	metrics.FundingShortfall.WithLabelValues(req.AccountID).Set(sellPlan.Shortfall)

	for _, order := range sellPlan.Orders {
		pos := wallet[wallet.Find(order.Ticker)]
		sells = append(sells, newEntry(pos, -order.Lots, SourceFunding))
	}
	return sells
}

func (s *Service) marginReport(req Request, wallet domain.Wallet, desired domain.Allocation, leveraged bool) *MarginReport {
	positions := req.Margin.IdentifyMarginPositions(wallet, desired)
	cfg := req.Margin.Config()
	report := &MarginReport{
		Enabled:   true,
		Leveraged: leveraged,
		Available: req.Margin.AvailableMargin(wallet),
		Positions: positions,
		Limits:    req.Margin.CheckLimits(wallet, positions),
		Cap:       req.Margin.ValidateAgainstCap(positions, cfg.MaxMarginSize),
		Unwind:    req.Unwind,
	}
	report.TargetValue = wallet.TotalValue()
	if leveraged {
		report.TargetValue += report.Available
	}
	return report
}

// placeholder builds a zero-quantity position for a ticker not held yet
func (s *Service) placeholder(ctx context.Context, catalog domain.InstrumentCatalog, ticker string) (domain.Position, error) {
	inst, err := catalog.FindInstrument(ctx, ticker)
	if err != nil {
		return domain.Position{}, fmt.Errorf("find instrument: %w", err)
	}
	price, err := catalog.LastPrice(ctx, inst.ID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("last price of %s: %w", inst.ID, err)
	}

	quote := inst.Currency
	if quote == "" || quote == ticker {
		quote = s.homeCurrency
	}
	return domain.Position{
		Base:         ticker,
		Quote:        quote,
		InstrumentID: inst.ID,
		LotSize:      inst.LotSize,
		Price:        price,
	}, nil
}

// checkNoShort verifies no ticker is sold beyond its whole held lots
func checkNoShort(wallet domain.Wallet, sells []Entry) error {
	sold := make(map[string]int)
	for _, e := range sells {
		sold[e.Ticker] += e.Lots()
	}
	for ticker, lots := range sold {
		held := 0
		if i := wallet.Find(ticker); i >= 0 {
			held = wallet[i].WholeLots()
		}
		if lots > held {
			return fmt.Errorf("plan sells %d lots of %s but only %d are held", lots, ticker, held)
		}
	}
	return nil
}

func newEntry(pos domain.Position, lotDelta int, source EntrySource) Entry {
	direction := domain.DirectionBuy
	if lotDelta < 0 {
		direction = domain.DirectionSell
	}
	lotPrice := pos.LotPrice()
	return Entry{
		Ticker:       pos.Base,
		InstrumentID: pos.InstrumentID,
		Direction:    direction,
		LotDelta:     lotDelta,
		ValueDelta:   float64(lotDelta) * lotPrice,
		LotPrice:     lotPrice,
		Source:       source,
	}
}

func sortedTickers(a domain.Allocation) []string {
	tickers := make([]string, 0, len(a))
	for ticker := range a {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

func sortedPositions(w domain.Wallet) domain.Wallet {
	out := make(domain.Wallet, len(w))
	copy(out, w)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// orderID derives a stable idempotency key for an entry of a plan
func orderID(planID string, priority int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(planID+"/"+strconv.Itoa(priority))).String()
}
