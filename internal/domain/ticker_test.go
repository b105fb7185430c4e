package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizer_Canonical(t *testing.T) {
	c := NewCanonicalizer(map[string]string{"OLDETF": "NEWETF"})

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain ticker", input: "TMOS", expected: "TMOS"},
		{name: "lower case and spaces", input: "  tmos ", expected: "TMOS"},
		{name: "suffix marker", input: "TRUR@", expected: "TRUR"},
		{name: "exchange suffix", input: "TGLD@MOEX", expected: "TGLD"},
		{name: "dotted exchange suffix", input: "tmos.moex", expected: "TMOS"},
		{name: "stacked suffixes", input: "TMOS.MISX.MOEX@", expected: "TMOS"},
		{name: "dotted share class kept", input: "BRK.B", expected: "BRK.B"},
		{name: "suffixed alias", input: "TCS.ME", expected: "T"},
		{name: "configured rename", input: "oldetf", expected: "NEWETF"},
		{name: "alias chain", input: "TCS", expected: "T"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Canonical(tt.input))
		})
	}
}

func TestCanonicalizer_Idempotent(t *testing.T) {
	tests := []struct {
		name    string
		aliases map[string]string
		tickers []string
	}{
		{"two cycle", map[string]string{"A": "B", "B": "A"}, []string{"TCS", "TRUR@", "A", "B", "tmon", "TMOS.MOEX", ""}},
		{"three cycle", map[string]string{"A": "B", "B": "C", "C": "A"}, []string{"A", "B", "C"}},
		{"tail into cycle", map[string]string{"X": "C", "C": "B", "B": "C"}, []string{"X", "B", "C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCanonicalizer(tt.aliases)
			for _, ticker := range tt.tickers {
				once := c.Canonical(ticker)
				assert.Equal(t, once, c.Canonical(once), ticker)
			}
		})
	}
}

func TestCanonicalizer_CycleCollapsesToSmallestMember(t *testing.T) {
	c := NewCanonicalizer(map[string]string{"A": "B", "B": "C", "C": "A", "Z": "C"})

	for _, ticker := range []string{"A", "B", "C", "Z"} {
		assert.Equal(t, "A", c.Canonical(ticker), ticker)
	}
}

func TestCanonicalizer_AllocationMergesAliases(t *testing.T) {
	c := NewCanonicalizer(nil)

	result := c.Allocation(Allocation{"TCSG": 10, "T": 5, "TMOS@": 20})

	assert.Equal(t, Allocation{"T": 15, "TMOS": 20}, result)
}

func TestCanonicalizer_WalletMergesPositions(t *testing.T) {
	c := NewCanonicalizer(nil)
	wallet := Wallet{
		{Base: "TCSG", Quote: "RUB", Quantity: 2, LotSize: 1, Price: 100},
		{Base: "T", Quote: "RUB", Quantity: 3, LotSize: 1, Price: 100},
		{Base: "RUB", Quote: "RUB", Quantity: 500, LotSize: 1, Price: 1},
	}

	result := c.Wallet(wallet)

	assert.Len(t, result, 2)
	assert.Equal(t, "T", result[0].Base)
	assert.Equal(t, 5.0, result[0].Quantity)
	assert.Equal(t, "TCSG", wallet[0].Base, "input wallet must not be mutated")
}

func TestCanonicalizer_WalletMergesCostBasis(t *testing.T) {
	c := NewCanonicalizer(nil)
	wallet := Wallet{
		{Base: "TCSG", Quote: "RUB", InstrumentID: "FIGI-T", Quantity: 2, LotSize: 1, Price: 100,
			AveragePrice: Float64Ptr(80), AveragePriceFIFO: Float64Ptr(90)},
		{Base: "T@", Quote: "RUB", InstrumentID: "FIGI-T", Quantity: 6, LotSize: 1, Price: 104,
			AveragePrice: Float64Ptr(120)},
	}

	result := c.Wallet(wallet)

	require.Len(t, result, 1)
	merged := result[0]
	assert.Equal(t, "T", merged.Base)
	assert.Equal(t, 8.0, merged.Quantity)
	assert.InDelta(t, 103.0, merged.Price, 1e-9)
	assert.InDelta(t, wallet.TotalValue(), Wallet{merged}.TotalValue(), 1e-9)
	require.NotNil(t, merged.AveragePrice)
	assert.InDelta(t, 110.0, *merged.AveragePrice, 1e-9)
	require.NotNil(t, merged.AveragePriceFIFO)
	assert.InDelta(t, 90.0, *merged.AveragePriceFIFO, 1e-9, "rows without a FIFO basis are left out")
	assert.Equal(t, 80.0, *wallet[0].AveragePrice, "input wallet must not be mutated")
}

func TestCanonicalizer_WalletWithoutCostBasis(t *testing.T) {
	result := NewCanonicalizer(nil).Wallet(Wallet{
		{Base: "TCSG", Quote: "RUB", Quantity: 1, LotSize: 1, Price: 100},
		{Base: "T", Quote: "RUB", Quantity: 1, LotSize: 1, Price: 100},
	})

	require.Len(t, result, 1)
	assert.Nil(t, result[0].AveragePrice)
	assert.Nil(t, result[0].AveragePriceFIFO)
}

func TestNilCanonicalizer_NormalizesOnly(t *testing.T) {
	var c *Canonicalizer
	assert.Equal(t, "TCS", c.Canonical(" tcs@ "))
}
