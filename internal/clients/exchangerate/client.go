// Package exchangerate converts instrument currencies into the home currency
// using exchangerate-api.com, backed by the client data cache.
package exchangerate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/aristath/rebalancer/pkg/retrier"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the public exchangerate-api.com endpoint
const DefaultBaseURL = "https://api.exchangerate-api.com/v4/latest"

const requestTimeout = 30 * time.Second

// ErrRateNotFound is returned when the quote for a base omits the target currency
var ErrRateNotFound = errors.New("rate not found")

// Client resolves currency pairs. One fetch returns every quote for a base
// currency and all of them are cached, so sibling pairs hit the cache.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retrier    *retrier.Retrier
	cache      *clientdata.Repository
	log        zerolog.Logger
}

// NewClient creates a client. cache and r are optional; a nil cache disables
// caching and stale fallback.
func NewClient(baseURL string, cache *clientdata.Repository, r *retrier.Retrier, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if r == nil {
		r = retrier.New(retrier.WithMaxRetries(2))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retrier:    r,
		cache:      cache,
		log:        log.With().Str("client", "exchangerate").Logger(),
	}
}

type cachedRate struct {
	Rate float64 `json:"rate"`
}

func pairKey(from, to string) string {
	return from + ":" + to
}

// GetRate returns how many units of to one unit of from buys.
// A fresh cached quote wins. When the API fails an expired quote is used if one exists.
func (c *Client) GetRate(from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return 1.0, nil
	}
	pair := pairKey(from, to)

	if rate, ok := c.cached(pair, true); ok {
		metrics.RateLookups.WithLabelValues("cache").Inc()
		return rate, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	quotes, err := c.fetchQuotes(ctx, from)
	if err == nil {
		c.storeQuotes(from, quotes)
		if rate, ok := quotes[to]; ok && rate > 0 {
			metrics.RateLookups.WithLabelValues("api").Inc()
			c.log.Debug().Str("pair", pair).Float64("rate", rate).Msg("Fetched rate")
			return rate, nil
		}
		err = fmt.Errorf("%s: %w", pair, ErrRateNotFound)
	}

	if rate, ok := c.cached(pair, false); ok {
		metrics.RateLookups.WithLabelValues("stale").Inc()
		c.log.Warn().Err(err).Str("pair", pair).Float64("rate", rate).Msg("Using stale cached rate")
		return rate, nil
	}
	return 0, err
}

func (c *Client) fetchQuotes(ctx context.Context, base string) (map[string]float64, error) {
	endpoint := fmt.Sprintf("%s/%s", c.baseURL, base)

	return retrier.DoWithData(ctx, c.retrier, func(ctx context.Context) (map[string]float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, retrier.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, retrier.Permanent(fmt.Errorf("API returned status %d", resp.StatusCode))
		}

		var body struct {
			Rates map[string]float64 `json:"rates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, retrier.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return body.Rates, nil
	})
}

func (c *Client) storeQuotes(base string, quotes map[string]float64) {
	if c.cache == nil {
		return
	}
	for currency, rate := range quotes {
		if rate <= 0 || currency == base {
			continue
		}
		pair := pairKey(base, currency)
		if err := c.cache.Store(clientdata.TableExchangeRate, pair, cachedRate{Rate: rate}, clientdata.TTLExchangeRate); err != nil {
			c.log.Warn().Err(err).Str("pair", pair).Msg("Failed to cache rate")
		}
	}
}

func (c *Client) cached(pair string, freshOnly bool) (float64, bool) {
	if c.cache == nil {
		return 0, false
	}

	var (
		data json.RawMessage
		err  error
	)
	if freshOnly {
		data, err = c.cache.GetIfFresh(clientdata.TableExchangeRate, pair)
	} else {
		data, err = c.cache.Get(clientdata.TableExchangeRate, pair)
	}
	if err != nil || data == nil {
		return 0, false
	}

	var entry cachedRate
	if err := json.Unmarshal(data, &entry); err != nil || entry.Rate <= 0 {
		return 0, false
	}
	return entry.Rate, true
}
