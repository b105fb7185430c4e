package allocation

import (
	"fmt"
	"strings"
)

// MetricKind names a valuation metric a mode depends on
type MetricKind string

const (
	MetricMarketCap MetricKind = "marketCap"
	MetricAUM       MetricKind = "aum"
)

// StrictDataError is returned by strict modes when required metrics are still
// missing after every fallback.
type StrictDataError struct {
	Mode         Mode
	MissingKinds []MetricKind
	Tickers      []string
}

func (e *StrictDataError) Error() string {
	kinds := make([]string, len(e.MissingKinds))
	for i, k := range e.MissingKinds {
		kinds[i] = string(k)
	}
	return fmt.Sprintf("mode %q cannot build desired wallet: missing %s for %s",
		e.Mode, strings.Join(kinds, ", "), strings.Join(e.Tickers, ", "))
}
