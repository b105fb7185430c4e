package domain

import "strings"

// DefaultTickerAliases maps historical or renamed tickers to their current symbol.
var DefaultTickerAliases = map[string]string{
	"TCS":  "TCSG",
	"TCSG": "T",
}

// exchangeSuffixes are venue codes stripped when they follow a ticker after a dot
// (TMOS.MOEX). Other dotted tickers such as BRK.B are kept.
var exchangeSuffixes = map[string]bool{
	"MOEX":  true,
	"MISX":  true,
	"ME":    true,
	"SPB":   true,
	"SPBEX": true,
}

// Canonicalizer collapses suffixed and renamed tickers to one canonical symbol.
// Canonical is idempotent. Aliases that form a cycle resolve to the
// lexicographically smallest ticker of the cycle.
type Canonicalizer struct {
	aliases map[string]string
}

// NewCanonicalizer creates a canonicalizer. Extra aliases override the defaults.
func NewCanonicalizer(extra map[string]string) *Canonicalizer {
	aliases := make(map[string]string, len(DefaultTickerAliases)+len(extra))
	for from, to := range DefaultTickerAliases {
		aliases[normalizeSymbol(from)] = normalizeSymbol(to)
	}
	for from, to := range extra {
		aliases[normalizeSymbol(from)] = normalizeSymbol(to)
	}
	return &Canonicalizer{aliases: aliases}
}

// Canonical returns the canonical form of a ticker
func (c *Canonicalizer) Canonical(ticker string) string {
	symbol := normalizeSymbol(ticker)
	if c == nil {
		return symbol
	}

	path := []string{symbol}
	seen := map[string]int{symbol: 0}
	for {
		next, ok := c.aliases[symbol]
		if !ok || next == symbol {
			return symbol
		}
		if at, loop := seen[next]; loop {
			return smallest(path[at:])
		}
		seen[next] = len(path)
		path = append(path, next)
		symbol = next
	}
}

func smallest(symbols []string) string {
	least := symbols[0]
	for _, s := range symbols[1:] {
		if s < least {
			least = s
		}
	}
	return least
}

// Allocation returns a copy of the allocation keyed by canonical tickers.
// Percentages of tickers collapsing onto the same symbol are summed.
func (c *Canonicalizer) Allocation(a Allocation) Allocation {
	out := make(Allocation, len(a))
	for ticker, pct := range a {
		out[c.Canonical(ticker)] += pct
	}
	return out
}

// Wallet returns a copy of the wallet with canonical base tickers.
// Non-cash positions collapsing onto the same symbol are merged: quantities
// are summed, price and cost basis are averaged weighted by quantity.
func (c *Canonicalizer) Wallet(w Wallet) Wallet {
	out := make(Wallet, 0, len(w))
	rows := make(map[string][]Position)
	for _, p := range w.Clone() {
		if p.IsCash() {
			out = append(out, p)
			continue
		}
		p.Base = c.Canonical(p.Base)
		if _, seen := rows[p.Base]; !seen {
			out = append(out, p)
		}
		rows[p.Base] = append(rows[p.Base], p)
	}

	for i, p := range out {
		if group := rows[p.Base]; !p.IsCash() && len(group) > 1 {
			out[i] = mergePositions(group)
		}
	}
	return out
}

// weightedMean accumulates a quantity-weighted average over rows that report a value
type weightedMean struct {
	sum, weight float64
	seen        bool
}

func (m *weightedMean) add(v *float64, qty float64) {
	if v == nil {
		return
	}
	m.seen = true
	m.sum += *v * qty
	m.weight += qty
}

func (m weightedMean) value() *float64 {
	if !m.seen || m.weight == 0 {
		return nil
	}
	return Float64Ptr(m.sum / m.weight)
}

// mergePositions folds rows of one instrument into the first. Rows without a
// cost basis are left out of that average.
func mergePositions(group []Position) Position {
	merged := group[0]
	var qty, value float64
	var avg, fifo weightedMean
	for _, p := range group {
		qty += p.Quantity
		value += p.Price * p.Quantity
		avg.add(p.AveragePrice, p.Quantity)
		fifo.add(p.AveragePriceFIFO, p.Quantity)
	}

	merged.Quantity = qty
	if qty != 0 {
		merged.Price = value / qty
	}
	merged.AveragePrice = avg.value()
	merged.AveragePriceFIFO = fifo.value()
	return merged
}

func normalizeSymbol(ticker string) string {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if idx := strings.Index(symbol, "@"); idx >= 0 {
		symbol = symbol[:idx]
	}
	symbol = strings.TrimSpace(symbol)
	for {
		idx := strings.LastIndex(symbol, ".")
		if idx <= 0 || !exchangeSuffixes[symbol[idx+1:]] {
			return symbol
		}
		symbol = strings.TrimSpace(symbol[:idx])
	}
}
