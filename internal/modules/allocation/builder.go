package allocation

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Mode selects how the desired wallet is derived from the base allocation
type Mode string

const (
	ModeManual        Mode = "manual"
	ModeDefault       Mode = "default"
	ModeMarketCap     Mode = "marketcap"
	ModeAUM           Mode = "aum"
	ModeMarketCapAUM  Mode = "marketcap_aum"
	ModeDecorrelation Mode = "decorrelation"
)

// ParseMode validates a configured mode name. Empty means manual.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeManual, nil
	case ModeManual, ModeDefault, ModeMarketCap, ModeAUM, ModeMarketCapAUM, ModeDecorrelation:
		return m, nil
	default:
		return "", fmt.Errorf("unknown desired wallet mode %q", s)
	}
}

// IsStrict reports whether missing metrics fail the build
func (m Mode) IsStrict() bool {
	return m == ModeMarketCap || m == ModeAUM || m == ModeDecorrelation
}

// MetricsSource provides valuation metrics in the home currency.
// The boolean is false when the metric is unavailable after all fallbacks.
type MetricsSource interface {
	MarketCap(ctx context.Context, ticker string) (float64, bool)
	AUM(ctx context.Context, ticker string) (float64, bool)
}

// TickerMetrics describes the inputs used for one ticker's weight
type TickerMetrics struct {
	Ticker        string   `json:"ticker"`
	MarketCap     *float64 `json:"market_cap,omitempty"`
	AUM           *float64 `json:"aum,omitempty"`
	Decorrelation *float64 `json:"decorrelation_pct,omitempty"`
	Weight        float64  `json:"weight"`
}

// Result is the outcome of a build
type Result struct {
	Allocation domain.Allocation `json:"allocation"`
	Metrics    []TickerMetrics   `json:"metrics"`
	// Fallback is true when the mode had no usable signal and returned the base allocation
	Fallback bool `json:"fallback"`
}

// Builder is the desired wallet builder
type Builder struct {
	source MetricsSource
	log    zerolog.Logger
}

// NewBuilder creates a new builder. source may be nil when only manual modes are used.
func NewBuilder(source MetricsSource, log zerolog.Logger) *Builder {
	return &Builder{
		source: source,
		log:    log.With().Str("service", "desired_wallet").Logger(),
	}
}

// Build derives the desired allocation for the given mode
func (b *Builder) Build(ctx context.Context, mode Mode, base domain.Allocation) (Result, error) {
	switch mode {
	case ModeManual, ModeDefault, "":
		return Result{Allocation: base.Clone(), Metrics: []TickerMetrics{}}, nil
	case ModeMarketCap, ModeAUM, ModeMarketCapAUM, ModeDecorrelation:
	default:
		return Result{}, fmt.Errorf("unknown desired wallet mode %q", mode)
	}

	if b.source == nil {
		return Result{}, fmt.Errorf("mode %q requires a metrics source", mode)
	}

	tickers := sortedTickers(base)
	var (
		result Result
		err    error
	)
	switch mode {
	case ModeMarketCap:
		result, err = b.buildSingleMetric(ctx, mode, base, tickers, MetricMarketCap)
	case ModeAUM:
		result, err = b.buildSingleMetric(ctx, mode, base, tickers, MetricAUM)
	case ModeMarketCapAUM:
		result = b.buildMarketCapWithAUMFallback(ctx, base, tickers)
	case ModeDecorrelation:
		result, err = b.buildDecorrelation(ctx, base, tickers)
	}
	if err != nil {
		return Result{}, err
	}

	b.log.Info().
		Str("mode", string(mode)).
		Int("tickers", len(tickers)).
		Bool("fallback", result.Fallback).
		Msg("Built desired wallet")

	return result, nil
}

func (b *Builder) buildSingleMetric(
	ctx context.Context,
	mode Mode,
	base domain.Allocation,
	tickers []string,
	kind MetricKind,
) (Result, error) {
	metrics := make([]TickerMetrics, 0, len(tickers))
	values := make(map[string]float64, len(tickers))
	var missing []string

	for _, ticker := range tickers {
		value, ok := b.lookup(ctx, kind, ticker)
		m := TickerMetrics{Ticker: ticker}
		if ok {
			values[ticker] = value
			if kind == MetricMarketCap {
				m.MarketCap = domain.Float64Ptr(value)
			} else {
				m.AUM = domain.Float64Ptr(value)
			}
		} else {
			missing = append(missing, ticker)
		}
		metrics = append(metrics, m)
	}

	if len(missing) > 0 {
		return Result{}, &StrictDataError{Mode: mode, MissingKinds: []MetricKind{kind}, Tickers: missing}
	}

	return weigh(base, metrics, values), nil
}

func (b *Builder) buildMarketCapWithAUMFallback(ctx context.Context, base domain.Allocation, tickers []string) Result {
	metrics := make([]TickerMetrics, 0, len(tickers))
	values := make(map[string]float64, len(tickers))

	for _, ticker := range tickers {
		m := TickerMetrics{Ticker: ticker}
		if value, ok := b.lookup(ctx, MetricMarketCap, ticker); ok {
			m.MarketCap = domain.Float64Ptr(value)
			values[ticker] = value
		} else if value, ok := b.lookup(ctx, MetricAUM, ticker); ok {
			m.AUM = domain.Float64Ptr(value)
			values[ticker] = value
		} else {
			b.log.Warn().Str("ticker", ticker).Msg("No market cap or AUM, using zero weight")
			values[ticker] = 0
		}
		metrics = append(metrics, m)
	}

	return weigh(base, metrics, values)
}

func (b *Builder) buildDecorrelation(ctx context.Context, base domain.Allocation, tickers []string) (Result, error) {
	metrics := make([]TickerMetrics, 0, len(tickers))
	var missingMarketCap, missingAUM []string

	for _, ticker := range tickers {
		m := TickerMetrics{Ticker: ticker}
		if value, ok := b.lookup(ctx, MetricMarketCap, ticker); ok {
			m.MarketCap = domain.Float64Ptr(value)
		} else {
			missingMarketCap = append(missingMarketCap, ticker)
		}
		if value, ok := b.lookup(ctx, MetricAUM, ticker); ok {
			m.AUM = domain.Float64Ptr(value)
		} else {
			missingAUM = append(missingAUM, ticker)
		}
		metrics = append(metrics, m)
	}

	if len(missingMarketCap) > 0 || len(missingAUM) > 0 {
		err := &StrictDataError{Mode: ModeDecorrelation, Tickers: unionSorted(missingMarketCap, missingAUM)}
		if len(missingMarketCap) > 0 {
			err.MissingKinds = append(err.MissingKinds, MetricMarketCap)
		}
		if len(missingAUM) > 0 {
			err.MissingKinds = append(err.MissingKinds, MetricAUM)
		}
		return Result{}, err
	}

	// Positive decorrelation means the market values the fund above its assets.
	maxDecorrelation := 0.0
	for i := range metrics {
		d := (*metrics[i].MarketCap - *metrics[i].AUM) / *metrics[i].AUM * 100
		metrics[i].Decorrelation = domain.Float64Ptr(d)
		if i == 0 || d > maxDecorrelation {
			maxDecorrelation = d
		}
	}

	scores := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		scores[m.Ticker] = maxDecorrelation - *m.Decorrelation
	}

	return weigh(base, metrics, scores), nil
}

func (b *Builder) lookup(ctx context.Context, kind MetricKind, ticker string) (float64, bool) {
	var (
		value float64
		ok    bool
	)
	if kind == MetricMarketCap {
		value, ok = b.source.MarketCap(ctx, ticker)
	} else {
		value, ok = b.source.AUM(ctx, ticker)
	}
	if !ok || value <= 0 {
		b.log.Debug().Str("ticker", ticker).Str("metric", string(kind)).Msg("Metric unavailable")
		return 0, false
	}
	return value, true
}

// weigh converts per-ticker signals into percentages. Without a positive total
// signal the base allocation is returned unchanged.
func weigh(base domain.Allocation, metrics []TickerMetrics, signal map[string]float64) Result {
	total := 0.0
	for _, ticker := range sortedTickers(signal) {
		if signal[ticker] > 0 {
			total += signal[ticker]
		}
	}
	if total <= 0 {
		for i := range metrics {
			metrics[i].Weight = base[metrics[i].Ticker]
		}
		return Result{Allocation: base.Clone(), Metrics: metrics, Fallback: true}
	}

	allocation := make(domain.Allocation, len(base))
	for ticker := range base {
		value := signal[ticker]
		if value < 0 {
			value = 0
		}
		allocation[ticker] = value / total * 100
	}
	for i := range metrics {
		metrics[i].Weight = allocation[metrics[i].Ticker]
	}
	return Result{Allocation: allocation, Metrics: metrics}
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	sort.Strings(out)
	return out
}
