package testing

import "github.com/aristath/rebalancer/internal/domain"

// Cash returns a cash position in the given currency
func Cash(currency string, amount float64) domain.Position {
	return domain.Position{Base: currency, Quote: currency, Quantity: amount, LotSize: 1, Price: 1}
}

// Holding returns a non-cash RUB position holding lots whole lots
func Holding(ticker string, lots, lotSize, price float64) domain.Position {
	return domain.Position{
		Base:         ticker,
		Quote:        string(domain.CurrencyRUB),
		InstrumentID: "FIGI-" + ticker,
		Quantity:     lots * lotSize,
		LotSize:      lotSize,
		Price:        price,
	}
}

// WithCost sets the average acquisition price of a position
func WithCost(p domain.Position, average float64) domain.Position {
	p.AveragePrice = domain.Float64Ptr(average)
	return p
}

// InstrumentFor returns the instrument matching Holding's identifiers
func InstrumentFor(ticker string, lotSize float64) domain.Instrument {
	return domain.Instrument{
		ID:       "FIGI-" + ticker,
		Ticker:   ticker,
		Name:     ticker,
		LotSize:  lotSize,
		Currency: string(domain.CurrencyRUB),
	}
}

// FundingScenarioWallet is 12 lots of TBRU at 7.42 bought at 7.00, no TMON and no cash
func FundingScenarioWallet() domain.Wallet {
	return domain.Wallet{
		WithCost(Holding("TBRU", 12, 1, 7.42), 7.00),
		Cash("RUB", 0),
	}
}
