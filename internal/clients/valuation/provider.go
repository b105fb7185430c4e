package valuation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/rs/zerolog"
)

// Source is the live data source behind the provider
type Source interface {
	ETF(ctx context.Context, ticker string) (*Record, error)
	Security(ctx context.Context, ticker string) (*Record, error)
}

// Provider serves market cap and AUM in the home currency.
// Lookup order: fresh cache, live ETF record, live security record, stale cache.
type Provider struct {
	source       Source
	cacheRepo    *clientdata.Repository
	rates        domain.CurrencyRateProvider
	homeCurrency string
	log          zerolog.Logger
}

// NewProvider creates a new provider. cacheRepo is optional.
func NewProvider(
	source Source,
	cacheRepo *clientdata.Repository,
	rates domain.CurrencyRateProvider,
	homeCurrency string,
	log zerolog.Logger,
) *Provider {
	return &Provider{
		source:       source,
		cacheRepo:    cacheRepo,
		rates:        rates,
		homeCurrency: strings.ToUpper(homeCurrency),
		log:          log.With().Str("service", "valuation").Logger(),
	}
}

// MarketCap returns the market capitalization of a ticker in the home currency
func (p *Provider) MarketCap(ctx context.Context, ticker string) (float64, bool) {
	return p.metric(ctx, ticker, func(r *Record) *Amount { return r.MarketCap })
}

// AUM returns the assets under management of a fund in the home currency
func (p *Provider) AUM(ctx context.Context, ticker string) (float64, bool) {
	return p.metric(ctx, ticker, func(r *Record) *Amount { return r.AUM })
}

func (p *Provider) metric(ctx context.Context, ticker string, pick func(*Record) *Amount) (float64, bool) {
	if cached := p.fromCache(ticker, true); cached != nil {
		if amount := pick(cached); usable(amount) {
			metrics.ValuationLookups.WithLabelValues("cache").Inc()
			return p.convert(ticker, amount)
		}
	}

	record := p.fetch(ctx, ticker, pick)
	if record != nil {
		if amount := pick(record); usable(amount) {
			return p.convert(ticker, amount)
		}
	}

	if stale := p.fromCache(ticker, false); stale != nil {
		if amount := pick(stale); usable(amount) {
			metrics.ValuationLookups.WithLabelValues("stale").Inc()
			p.log.Warn().Str("ticker", ticker).Msg("Using stale cached valuation")
			return p.convert(ticker, amount)
		}
	}

	metrics.ValuationLookups.WithLabelValues("miss").Inc()
	return 0, false
}

// fetch tries the ETF endpoint, then the generic security endpoint. Whatever
// was found is merged into the cached record.
func (p *Provider) fetch(ctx context.Context, ticker string, pick func(*Record) *Amount) *Record {
	var merged *Record
	for _, step := range []struct {
		name string
		call func(context.Context, string) (*Record, error)
	}{
		{"etf", p.source.ETF},
		{"security", p.source.Security},
	} {
		record, err := step.call(ctx, ticker)
		if err != nil {
			p.log.Debug().Err(err).Str("ticker", ticker).Str("source", step.name).Msg("Valuation lookup failed")
			continue
		}
		merged = mergeRecords(merged, record)
		if usable(pick(record)) {
			metrics.ValuationLookups.WithLabelValues(step.name).Inc()
			break
		}
	}

	if merged != nil && p.cacheRepo != nil {
		merged.Ticker = ticker
		if prior := p.fromCache(ticker, false); prior != nil {
			merged = mergeRecords(prior, merged)
		}
		if err := p.cacheRepo.Store(clientdata.TableValuationMetrics, ticker, merged, clientdata.TTLValuationMetrics); err != nil {
			p.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache valuation")
		}
	}
	return merged
}

func (p *Provider) fromCache(ticker string, freshOnly bool) *Record {
	if p.cacheRepo == nil {
		return nil
	}

	var (
		data json.RawMessage
		err  error
	)
	if freshOnly {
		data, err = p.cacheRepo.GetIfFresh(clientdata.TableValuationMetrics, ticker)
	} else {
		data, err = p.cacheRepo.Get(clientdata.TableValuationMetrics, ticker)
	}
	if err != nil || data == nil {
		return nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return &record
}

func (p *Provider) convert(ticker string, amount *Amount) (float64, bool) {
	currency := strings.ToUpper(amount.Currency)
	if currency == "" || currency == p.homeCurrency {
		return amount.Value, true
	}
	if p.rates == nil {
		return 0, false
	}

	rate, err := p.rates.GetRate(currency, p.homeCurrency)
	if err != nil || rate <= 0 {
		p.log.Warn().Err(err).Str("ticker", ticker).Str("currency", currency).Msg("No exchange rate for valuation")
		return 0, false
	}
	return amount.Value * rate, true
}

func usable(a *Amount) bool {
	return a != nil && a.Value > 0
}

// mergeRecords overlays the usable values of next onto a copy of base
func mergeRecords(base, next *Record) *Record {
	if base == nil {
		copied := *next
		return &copied
	}
	out := *base
	if usable(next.MarketCap) {
		out.MarketCap = next.MarketCap
	}
	if usable(next.AUM) {
		out.AUM = next.AUM
	}
	return &out
}
