package valuation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/database"
	testhelpers "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	etf      map[string]*Record
	security map[string]*Record
	err      error
	calls    int
}

func (s *stubSource) ETF(_ context.Context, ticker string) (*Record, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.etf[ticker]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("etf %s: %w", ticker, ErrNotFound)
}

func (s *stubSource) Security(_ context.Context, ticker string) (*Record, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.security[ticker]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("security %s: %w", ticker, ErrNotFound)
}

type stubRates map[string]float64

func (s stubRates) GetRate(from, to string) (float64, error) {
	if rate, ok := s[from+":"+to]; ok {
		return rate, nil
	}
	return 0, errors.New("no rate")
}

func newRepo(t *testing.T) *clientdata.Repository {
	return clientdata.NewRepository(testhelpers.NewTestDB(t, database.NameClientData).Conn())
}

func TestProvider_ETFThenSecurity(t *testing.T) {
	source := &stubSource{
		etf: map[string]*Record{
			"TRUR": {MarketCap: &Amount{Value: 1000, Currency: "RUB"}, AUM: &Amount{Value: 900, Currency: "RUB"}},
		},
		security: map[string]*Record{
			"SBER": {MarketCap: &Amount{Value: 50, Currency: "USD"}},
		},
	}
	provider := NewProvider(source, nil, stubRates{"USD:RUB": 90}, "RUB", zerolog.Nop())
	ctx := context.Background()

	value, ok := provider.MarketCap(ctx, "TRUR")
	require.True(t, ok)
	assert.Equal(t, 1000.0, value)

	value, ok = provider.AUM(ctx, "TRUR")
	require.True(t, ok)
	assert.Equal(t, 900.0, value)

	value, ok = provider.MarketCap(ctx, "SBER")
	require.True(t, ok)
	assert.Equal(t, 4500.0, value)

	_, ok = provider.AUM(ctx, "SBER")
	assert.False(t, ok)
}

func TestProvider_CacheFirst(t *testing.T) {
	source := &stubSource{etf: map[string]*Record{
		"TMOS": {AUM: &Amount{Value: 300, Currency: "RUB"}},
	}}
	provider := NewProvider(source, newRepo(t), nil, "RUB", zerolog.Nop())
	ctx := context.Background()

	_, ok := provider.AUM(ctx, "TMOS")
	require.True(t, ok)
	calls := source.calls

	value, ok := provider.AUM(ctx, "TMOS")
	require.True(t, ok)
	assert.Equal(t, 300.0, value)
	assert.Equal(t, calls, source.calls, "fresh cache should avoid live calls")
}

func TestProvider_StaleCacheWhenSourceDown(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Store(clientdata.TableValuationMetrics, "TGLD",
		Record{Ticker: "TGLD", MarketCap: &Amount{Value: 77, Currency: "RUB"}}, -time.Hour))

	source := &stubSource{err: errors.New("timeout")}
	provider := NewProvider(source, repo, nil, "RUB", zerolog.Nop())

	value, ok := provider.MarketCap(context.Background(), "TGLD")
	require.True(t, ok)
	assert.Equal(t, 77.0, value)

	_, ok = provider.AUM(context.Background(), "TGLD")
	assert.False(t, ok)
}

func TestProvider_MissingRateMeansMissingMetric(t *testing.T) {
	source := &stubSource{etf: map[string]*Record{
		"FXUS": {AUM: &Amount{Value: 10, Currency: "EUR"}},
	}}
	provider := NewProvider(source, nil, stubRates{}, "RUB", zerolog.Nop())

	_, ok := provider.AUM(context.Background(), "FXUS")
	assert.False(t, ok)
}

func TestProvider_ZeroIsUnavailable(t *testing.T) {
	source := &stubSource{etf: map[string]*Record{
		"TBRU": {MarketCap: &Amount{Value: 0, Currency: "RUB"}},
	}}
	provider := NewProvider(source, nil, nil, "RUB", zerolog.Nop())

	_, ok := provider.MarketCap(context.Background(), "TBRU")
	assert.False(t, ok)
}
