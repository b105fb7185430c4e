// Package valuation fetches fund and company valuation metrics (market
// capitalization and assets under management) and serves them cache-first.
package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/rebalancer/pkg/retrier"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the data source has no record for a ticker
var ErrNotFound = errors.New("valuation record not found")

// Amount is a money value with its currency
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Record holds whatever metrics a source knows for one ticker
type Record struct {
	Ticker    string  `json:"ticker"`
	MarketCap *Amount `json:"market_cap,omitempty"`
	AUM       *Amount `json:"aum,omitempty"`
}

// ErrNotConfigured is returned by every lookup when no base URL is set
var ErrNotConfigured = errors.New("valuation API base URL not configured")

// Client queries the valuation data API
type Client struct {
	baseURL    string
	httpClient *http.Client
	retrier    *retrier.Retrier
	log        zerolog.Logger
}

// NewClient creates a new valuation API client
func NewClient(baseURL string, r *retrier.Retrier, log zerolog.Logger) *Client {
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(2))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retrier:    r,
		log:        log.With().Str("client", "valuation").Logger(),
	}
}

// ETF returns fund metrics (AUM and, when traded, market cap)
func (c *Client) ETF(ctx context.Context, ticker string) (*Record, error) {
	return c.get(ctx, "etf", ticker)
}

// Security returns generic security metrics (market cap)
func (c *Client) Security(ctx context.Context, ticker string) (*Record, error) {
	return c.get(ctx, "security", ticker)
}

func (c *Client) get(ctx context.Context, kind, ticker string) (*Record, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, url.PathEscape(ticker))

	return retrier.DoWithData(ctx, c.retrier, func(ctx context.Context) (*Record, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, retrier.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, retrier.Permanent(fmt.Errorf("%s %s: %w", kind, ticker, ErrNotFound))
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, retrier.Permanent(fmt.Errorf("API returned status %d", resp.StatusCode))
		}

		var record Record
		if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
			return nil, retrier.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		if record.Ticker == "" {
			record.Ticker = ticker
		}

		c.log.Debug().Str("kind", kind).Str("ticker", ticker).Msg("Fetched valuation record")
		return &record, nil
	})
}
