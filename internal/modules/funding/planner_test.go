package funding

import (
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	testhelpers "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanner(minRebalance float64, restricted ...string) *Planner {
	return NewPlanner(Config{
		Enabled:             true,
		RestrictedTickers:   restricted,
		MinRebalancePercent: minRebalance,
		Mode:                ModeProfitRanked,
	}, domain.NewCanonicalizer(nil), zerolog.Nop())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Enabled: true, Mode: ModeProportional}.Validate())
	assert.Error(t, Config{Enabled: true, Mode: "random"}.Validate())
	assert.Error(t, Config{Enabled: true, Mode: ModeDisabled, MinRebalancePercent: -1}.Validate())
}

func TestEligibleSellSources(t *testing.T) {
	fifo := testhelpers.Holding("FIFO", 10, 1, 10)
	fifo.AveragePrice = domain.Float64Ptr(11)    // loss by average
	fifo.AveragePriceFIFO = domain.Float64Ptr(5) // profit by FIFO

	wallet := domain.Wallet{
		testhelpers.WithCost(testhelpers.Holding("SMALL", 10, 1, 10), 9), // +10
		testhelpers.WithCost(testhelpers.Holding("BIG", 10, 1, 10), 5),   // +50
		testhelpers.WithCost(testhelpers.Holding("LOSS", 10, 1, 10), 12), // -20
		testhelpers.WithCost(testhelpers.Holding("FLAT", 10, 1, 10), 10), // 0
		testhelpers.Holding("UNKNOWN", 10, 1, 10),                        // no basis
		testhelpers.WithCost(testhelpers.Holding("TMON", 10, 1, 10), 1),  // restricted
		fifo, // +50 by FIFO
		testhelpers.Cash("RUB", 1000),
	}

	sources := newTestPlanner(0, "tmon").EligibleSellSources(wallet)

	tickers := make([]string, len(sources))
	for i, s := range sources {
		tickers[i] = s.Ticker
	}
	assert.Equal(t, []string{"BIG", "FIFO", "SMALL"}, tickers)
	assert.Equal(t, 10, sources[0].HeldLots)
	assert.InDelta(t, 50.0, sources[0].Profit, 1e-9)
}

func TestRequiredFunds(t *testing.T) {
	// total = 1,000
	wallet := domain.Wallet{
		testhelpers.Holding("TBRU", 80, 1, 10),
		testhelpers.Holding("TMON", 10, 1, 10),
		testhelpers.Cash("RUB", 100),
	}
	desired := domain.Allocation{"TBRU": 50, "TMON": 40, "TGLD": 10}

	tests := []struct {
		name       string
		minPercent float64
		restricted []string
		expected   []Need
	}{
		{"above threshold", 5, []string{"TMON"}, []Need{{Ticker: "TMON", Amount: 300}}},
		{"below threshold", 40, []string{"TMON"}, nil},
		{"not desired is ignored", 0, []string{"TPAY"}, nil},
		{"overweight needs nothing", 0, []string{"TBRU"}, nil},
		{"unheld restricted ticker", 0, []string{"TGLD", "TMON"}, []Need{{Ticker: "TGLD", Amount: 100}, {Ticker: "TMON", Amount: 300}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			needs := newTestPlanner(tt.minPercent, tt.restricted...).RequiredFunds(wallet, desired)
			require.Len(t, needs, len(tt.expected))
			for i := range tt.expected {
				assert.Equal(t, tt.expected[i].Ticker, needs[i].Ticker)
				assert.InDelta(t, tt.expected[i].Amount, needs[i].Amount, 1e-9)
			}
		})
	}
}

func sampleSources() []SellSource {
	return []SellSource{
		{Ticker: "A", InstrumentID: "FIGI-A", HeldLots: 5, LotPrice: 100, Value: 500, Profit: 90},
		{Ticker: "B", InstrumentID: "FIGI-B", HeldLots: 10, LotPrice: 30, Value: 300, Profit: 40},
		{Ticker: "C", InstrumentID: "FIGI-C", HeldLots: 4, LotPrice: 50, Value: 200, Profit: 10},
	}
}

func TestSellPlan_ProfitRanked(t *testing.T) {
	planner := newTestPlanner(0, "TMON")

	tests := []struct {
		name      string
		needs     []Need
		cash      float64
		orders    []SellOrder
		covered   float64
		shortfall float64
	}{
		{
			name:    "first source covers with ceil lots",
			needs:   []Need{{Ticker: "TMON", Amount: 250}},
			orders:  []SellOrder{{Ticker: "A", InstrumentID: "FIGI-A", Lots: 3, Value: 300}},
			covered: 300,
		},
		{
			name:  "spills into second source",
			needs: []Need{{Ticker: "TMON", Amount: 560}},
			orders: []SellOrder{
				{Ticker: "A", InstrumentID: "FIGI-A", Lots: 5, Value: 500},
				{Ticker: "B", InstrumentID: "FIGI-B", Lots: 2, Value: 60},
			},
			covered: 560,
		},
		{
			name:    "positive cash reduces the need",
			needs:   []Need{{Ticker: "TMON", Amount: 250}},
			cash:    200,
			orders:  []SellOrder{{Ticker: "A", InstrumentID: "FIGI-A", Lots: 1, Value: 100}},
			covered: 100,
		},
		{
			name:    "negative cash is added to the need",
			needs:   []Need{{Ticker: "TMON", Amount: 250}},
			cash:    -150,
			orders:  []SellOrder{{Ticker: "A", InstrumentID: "FIGI-A", Lots: 4, Value: 400}},
			covered: 400,
		},
		{
			name:   "cash covers everything",
			needs:  []Need{{Ticker: "TMON", Amount: 250}},
			cash:   300,
			orders: []SellOrder{},
		},
		{
			name:  "shortfall when sources run out",
			needs: []Need{{Ticker: "TMON", Amount: 1500}},
			orders: []SellOrder{
				{Ticker: "A", InstrumentID: "FIGI-A", Lots: 5, Value: 500},
				{Ticker: "B", InstrumentID: "FIGI-B", Lots: 10, Value: 300},
				{Ticker: "C", InstrumentID: "FIGI-C", Lots: 4, Value: 200},
			},
			covered:   1000,
			shortfall: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := planner.SellPlan(sampleSources(), tt.needs, ModeProfitRanked, tt.cash)
			assert.Equal(t, tt.orders, plan.Orders)
			assert.InDelta(t, tt.covered, plan.Covered, 1e-9)
			assert.InDelta(t, tt.shortfall, plan.Shortfall, 1e-9)
		})
	}
}

func TestSellPlan_Proportional(t *testing.T) {
	planner := newTestPlanner(0, "TMON")

	// Need 500 of 1,000 eligible: 250 / 150 / 100 by value share
	plan := planner.SellPlan(sampleSources(), []Need{{Ticker: "TMON", Amount: 500}}, ModeProportional, 0)
	assert.Equal(t, []SellOrder{
		{Ticker: "A", InstrumentID: "FIGI-A", Lots: 2, Value: 200},
		{Ticker: "B", InstrumentID: "FIGI-B", Lots: 5, Value: 150},
		{Ticker: "C", InstrumentID: "FIGI-C", Lots: 2, Value: 100},
	}, plan.Orders)
	assert.InDelta(t, 450.0, plan.Covered, 1e-9)
	assert.InDelta(t, 50.0, plan.Shortfall, 1e-9)

	everything := planner.SellPlan(sampleSources(), []Need{{Ticker: "TMON", Amount: 5000}}, ModeProportional, 0)
	assert.Equal(t, 5, everything.LotsFor("A"))
	assert.Equal(t, 10, everything.LotsFor("B"))
	assert.Equal(t, 4, everything.LotsFor("C"))
	assert.InDelta(t, 4000.0, everything.Shortfall, 1e-9)
}

func TestSellPlan_Disabled(t *testing.T) {
	plan := newTestPlanner(0, "TMON").SellPlan(sampleSources(), []Need{{Ticker: "TMON", Amount: 500}}, ModeDisabled, 0)
	assert.Empty(t, plan.Orders)
	assert.InDelta(t, 500.0, plan.Shortfall, 1e-9)
}

func TestSellPlan_Idempotent(t *testing.T) {
	planner := newTestPlanner(0, "TMON")
	sources := sampleSources()
	needs := []Need{{Ticker: "TMON", Amount: 777}}

	for _, mode := range []Mode{ModeProfitRanked, ModeProportional, ModeDisabled} {
		first := planner.SellPlan(sources, needs, mode, -10)
		second := planner.SellPlan(sources, needs, mode, -10)
		assert.Equal(t, first, second, string(mode))
	}
	assert.Equal(t, sampleSources(), sources, "inputs must not be modified")
}

func TestSellPlan_NeverExceedsHeldLots(t *testing.T) {
	planner := newTestPlanner(0, "TMON")
	sources := sampleSources()
	held := map[string]int{}
	for _, s := range sources {
		held[s.Ticker] = s.HeldLots
	}

	for _, amount := range []float64{1, 99, 100, 101, 499, 999, 1000, 1e6} {
		for _, mode := range []Mode{ModeProfitRanked, ModeProportional} {
			plan := planner.SellPlan(sources, []Need{{Ticker: "TMON", Amount: amount}}, mode, 0)
			for ticker, lots := range held {
				assert.LessOrEqual(t, plan.LotsFor(ticker), lots)
			}
		}
	}
}
