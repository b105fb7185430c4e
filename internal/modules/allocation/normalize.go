// Package allocation derives desired portfolio weights from a base allocation.
package allocation

import (
	"math"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// SumTolerance is the accepted drift when checking that weights sum to 100
const SumTolerance = 1e-6

// Normalize rescales the allocation so its percentages sum to 100 while keeping
// their ratios. Negative weights are treated as zero. An allocation without any
// positive weight is returned as a copy.
func Normalize(a domain.Allocation) domain.Allocation {
	tickers := sortedTickers(a)
	values := make([]float64, len(tickers))
	for i, ticker := range tickers {
		values[i] = math.Max(0, a[ticker])
	}

	total := floats.Sum(values)
	if total <= 0 {
		return a.Clone()
	}
	floats.Scale(100/total, values)

	out := make(domain.Allocation, len(tickers))
	for i, ticker := range tickers {
		out[ticker] = values[i]
	}
	return out
}

// Sum returns the total of all percentages
func Sum(a domain.Allocation) float64 {
	values := make([]float64, 0, len(a))
	for _, ticker := range sortedTickers(a) {
		values = append(values, a[ticker])
	}
	return floats.Sum(values)
}

// SumsTo100 reports whether the allocation sums to 100 within SumTolerance
func SumsTo100(a domain.Allocation) bool {
	return math.Abs(Sum(a)-100) <= SumTolerance
}

// sortedTickers keeps float summation order deterministic
func sortedTickers(a domain.Allocation) []string {
	tickers := make([]string, 0, len(a))
	for ticker := range a {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}
