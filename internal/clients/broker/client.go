// Package broker provides the REST client for the brokerage API and the
// per-iteration instrument catalog built on top of it.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/pkg/retrier"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the production REST gateway
const DefaultBaseURL = "https://invest-public-api.tinkoff.ru/rest"

// Instrument types reported in portfolio positions
const (
	instrumentTypeCurrency = "currency"
)

// Config configures the broker client
type Config struct {
	BaseURL      string
	Token        string
	HomeCurrency string
	Timeout      time.Duration
}

// Client is a domain.BrokerClient backed by the REST gateway
type Client struct {
	baseURL      string
	token        string
	homeCurrency string
	httpClient   *http.Client
	retrier      *retrier.Retrier
	log          zerolog.Logger
}

// APIError is a non-2xx response from the gateway
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API returned status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new broker client
func NewClient(cfg Config, r *retrier.Retrier, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HomeCurrency == "" {
		cfg.HomeCurrency = string(domain.CurrencyRUB)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if r == nil {
		r = retrier.New()
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		homeCurrency: strings.ToUpper(cfg.HomeCurrency),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		retrier:      r,
		log:          log.With().Str("client", "broker").Logger(),
	}
}

// call posts a JSON request and decodes the JSON response. 4xx responses are not retried.
func (c *Client) call(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retrier.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Debug().Err(err).Str("path", path).Msg("Request failed")
			return fmt.Errorf("request %s failed: %w", path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var payload errorResponse
			if json.Unmarshal(raw, &payload) == nil {
				apiErr.Code = payload.Code
				apiErr.Message = payload.Message
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retrier.Permanent(apiErr)
			}
			return apiErr
		}

		if err := json.Unmarshal(raw, out); err != nil {
			return retrier.Permanent(fmt.Errorf("failed to parse response from %s: %w", path, err))
		}
		return nil
	})
}

// ListInstruments returns tradable shares and ETFs
func (c *Client) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	for _, path := range []string{pathEtfs, pathShares} {
		var resp instrumentsResponse
		if err := c.call(ctx, path, instrumentsRequest{InstrumentStatus: "INSTRUMENT_STATUS_BASE"}, &resp); err != nil {
			return nil, fmt.Errorf("failed to list instruments: %w", err)
		}
		for _, rec := range resp.Instruments {
			lot, _ := strconv.ParseFloat(rec.Lot.String(), 64)
			if lot <= 0 {
				lot = 1
			}
			instruments = append(instruments, domain.Instrument{
				ID:       rec.Figi,
				Ticker:   rec.Ticker,
				Name:     rec.Name,
				LotSize:  lot,
				Currency: strings.ToUpper(rec.Currency),
			})
		}
	}

	c.log.Debug().Int("count", len(instruments)).Msg("Listed instruments")
	return instruments, nil
}

// GetLastPrices returns last prices keyed by instrument id. Unknown ids are omitted.
func (c *Client) GetLastPrices(ctx context.Context, instrumentIDs []string) (map[string]float64, error) {
	prices := make(map[string]float64, len(instrumentIDs))
	if len(instrumentIDs) == 0 {
		return prices, nil
	}

	var resp lastPricesResponse
	if err := c.call(ctx, pathGetLastPrices, lastPricesRequest{InstrumentID: instrumentIDs}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get last prices: %w", err)
	}

	for _, lp := range resp.LastPrices {
		price := lp.Price.Float()
		if price <= 0 {
			continue
		}
		prices[lp.Figi] = price
		if lp.InstrumentUID != "" {
			prices[lp.InstrumentUID] = price
		}
	}
	return prices, nil
}

// GetPortfolio returns the account's holdings. Positions are resolved to tickers
// through the instrument listing. Every currency balance is folded into a single
// home-currency cash position.
func (c *Client) GetPortfolio(ctx context.Context, accountID string) (domain.Wallet, error) {
	var resp portfolioResponse
	if err := c.call(ctx, pathGetPortfolio, portfolioRequest{AccountID: accountID, Currency: c.homeCurrency}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get portfolio for %s: %w", accountID, err)
	}

	instruments, err := c.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	byFigi := make(map[string]domain.Instrument, len(instruments))
	for _, inst := range instruments {
		byFigi[inst.ID] = inst
	}

	cash := 0.0
	wallet := make(domain.Wallet, 0, len(resp.Positions)+1)
	for _, p := range resp.Positions {
		quantity := p.Quantity.Float()
		price := p.CurrentPrice.Float()

		if p.InstrumentType == instrumentTypeCurrency {
			// Foreign balances are quoted in the home currency
			if p.CurrentPrice.CurrencyCode() == c.homeCurrency && price > 0 {
				cash += quantity * price
			} else {
				cash += quantity
			}
			continue
		}

		inst, ok := byFigi[p.Figi]
		if !ok {
			c.log.Warn().Str("figi", p.Figi).Str("type", p.InstrumentType).Msg("Portfolio position not in instrument listing, skipping")
			continue
		}

		position := domain.Position{
			Base:         inst.Ticker,
			Quote:        c.homeCurrency,
			InstrumentID: inst.ID,
			Quantity:     quantity,
			LotSize:      inst.LotSize,
			Price:        price,
		}
		if avg := p.AveragePositionPrice.Float(); avg > 0 {
			position.AveragePrice = domain.Float64Ptr(avg)
		}
		if fifo := p.AveragePositionPriceFifo.Float(); fifo > 0 {
			position.AveragePriceFIFO = domain.Float64Ptr(fifo)
		}
		wallet = append(wallet, position)
	}

	wallet = append(wallet, domain.Position{
		Base:     c.homeCurrency,
		Quote:    c.homeCurrency,
		Quantity: cash,
		LotSize:  1,
		Price:    1,
	})

	c.log.Debug().
		Str("account_id", accountID).
		Int("positions", len(wallet)).
		Float64("cash", cash).
		Msg("Fetched portfolio")

	return wallet, nil
}

// PlaceOrder submits a market order. OrderID is the idempotency key, so retries
// cannot duplicate an order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if req.Lots <= 0 {
		return nil, fmt.Errorf("invalid lot count %d", req.Lots)
	}

	var direction string
	switch req.Direction {
	case domain.DirectionBuy:
		direction = "ORDER_DIRECTION_BUY"
	case domain.DirectionSell:
		direction = "ORDER_DIRECTION_SELL"
	default:
		return nil, fmt.Errorf("invalid direction: %s (must be BUY or SELL)", req.Direction)
	}

	in := postOrderRequest{
		Quantity:     json.Number(strconv.Itoa(req.Lots)),
		Direction:    direction,
		AccountID:    req.AccountID,
		OrderType:    "ORDER_TYPE_MARKET",
		OrderID:      req.OrderID,
		InstrumentID: req.InstrumentID,
	}

	var resp postOrderResponse
	if err := c.call(ctx, pathPostOrder, in, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			c.log.Error().Int("status", apiErr.StatusCode).Str("message", apiErr.Message).Msg("Order rejected")
		}
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	executed, _ := strconv.Atoi(resp.LotsExecuted.String())
	return &domain.OrderResult{
		OrderID:      resp.OrderID,
		Status:       resp.ExecutionReportStatus,
		LotsExecuted: executed,
		Price:        resp.ExecutedOrderPrice.Float(),
	}, nil
}
