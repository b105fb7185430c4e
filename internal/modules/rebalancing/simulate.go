package rebalancing

import (
	"github.com/aristath/rebalancer/internal/domain"
)

// SimulateExecution applies a plan to a copy of the wallet as if every order
// filled at its lot price. Tickers bought for the first time are added from the
// plan targets; the cash balance in the home currency absorbs every trade.
func (s *Service) SimulateExecution(wallet domain.Wallet, plan *Plan) domain.Wallet {
	out := s.canonicalize.Wallet(wallet)

	cashIdx := -1
	for i, pos := range out {
		if pos.IsCash() && pos.Base == s.homeCurrency {
			cashIdx = i
			break
		}
	}
	if cashIdx < 0 {
		out = append(out, domain.Position{Base: s.homeCurrency, Quote: s.homeCurrency, LotSize: 1, Price: 1})
		cashIdx = len(out) - 1
	}

	for _, e := range plan.Entries {
		idx := out.Find(e.Ticker)
		if idx < 0 || out[idx].IsCash() {
			target, ok := plan.target(e.Ticker)
			if !ok {
				continue
			}
			lotSize := target.LotSize
			if lotSize <= 0 {
				lotSize = 1
			}
			out = append(out, domain.Position{
				Base:         e.Ticker,
				Quote:        s.homeCurrency,
				InstrumentID: target.InstrumentID,
				LotSize:      lotSize,
				Price:        target.LotPrice / lotSize,
			})
			idx = len(out) - 1
		}

		lotSize := out[idx].LotSize
		if lotSize <= 0 {
			lotSize = 1
		}
		out[idx].Quantity += float64(e.LotDelta) * lotSize
		out[cashIdx].Quantity -= e.ValueDelta
	}

	return out
}

// FinalPercentages returns each non-cash position's share of the non-cash
// portfolio value. Cash is excluded from both sides.
func FinalPercentages(wallet domain.Wallet) domain.Allocation {
	out := make(domain.Allocation)
	total := wallet.NonCashValue()
	for _, pos := range wallet {
		if pos.IsCash() {
			continue
		}
		if total <= 0 {
			out[pos.Base] = 0
			continue
		}
		out[pos.Base] += pos.TotalValue() / total * 100
	}
	return out
}
