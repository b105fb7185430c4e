package allocation

import (
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input domain.Allocation
	}{
		{name: "already normalized", input: domain.Allocation{"TRUR": 50, "TMOS": 30, "TGLD": 20}},
		{name: "under 100", input: domain.Allocation{"TRUR": 1, "TMOS": 1, "TGLD": 2}},
		{name: "over 100", input: domain.Allocation{"TRUR": 300, "TMOS": 150}},
		{name: "with zero weight", input: domain.Allocation{"TRUR": 10, "TMOS": 0, "TGLD": 30}},
		{name: "awkward fractions", input: domain.Allocation{"A": 1.0 / 3, "B": 2.0 / 7, "C": 0.1, "D": 13}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)

			assert.True(t, SumsTo100(result), "sum was %v", Sum(result))
			assert.Len(t, result, len(tt.input))

			// Ratios are preserved against the first positive ticker
			var ref string
			for _, ticker := range sortedTickers(tt.input) {
				if tt.input[ticker] > 0 {
					ref = ticker
					break
				}
			}
			for ticker, pct := range tt.input {
				expected := pct / tt.input[ref]
				assert.InDelta(t, expected, result[ticker]/result[ref], 1e-9, ticker)
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	input := domain.Allocation{"TRUR": 1, "TMOS": 3}
	Normalize(input)
	assert.Equal(t, domain.Allocation{"TRUR": 1, "TMOS": 3}, input)
}

func TestNormalize_AllZero(t *testing.T) {
	input := domain.Allocation{"TRUR": 0, "TMOS": 0}
	assert.Equal(t, input, Normalize(input))
	assert.Empty(t, Normalize(domain.Allocation{}))
}

func TestNormalize_NegativeTreatedAsZero(t *testing.T) {
	result := Normalize(domain.Allocation{"TRUR": -10, "TMOS": 10})
	assert.Equal(t, 0.0, result["TRUR"])
	assert.InDelta(t, 100.0, result["TMOS"], 1e-9)
}

func TestNormalize_Repeated(t *testing.T) {
	result := domain.Allocation{"A": 1.0 / 3, "B": 1.0 / 3, "C": 1.0 / 3}
	for i := 0; i < 50; i++ {
		result = Normalize(result)
	}
	assert.True(t, SumsTo100(result))
}
