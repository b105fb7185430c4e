package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Catalog is a read-only instrument and price snapshot for one iteration.
// The instrument listing is fetched at most once and every price at most once.
// A Catalog must not be reused across iterations.
type Catalog struct {
	client       domain.BrokerClient
	canonicalize *domain.Canonicalizer
	cacheRepo    *clientdata.Repository
	log          zerolog.Logger

	loaded      bool
	listErr     error
	instruments map[string]domain.Instrument
	prices      map[string]float64
	priceMisses map[string]bool
}

// NewCatalog creates an empty catalog. cacheRepo is optional and only used as a
// fallback when the instrument listing cannot be fetched.
func NewCatalog(
	client domain.BrokerClient,
	canonicalize *domain.Canonicalizer,
	cacheRepo *clientdata.Repository,
	log zerolog.Logger,
) *Catalog {
	return &Catalog{
		client:       client,
		canonicalize: canonicalize,
		cacheRepo:    cacheRepo,
		log:          log.With().Str("component", "catalog").Logger(),
		instruments:  make(map[string]domain.Instrument),
		prices:       make(map[string]float64),
		priceMisses:  make(map[string]bool),
	}
}

func (c *Catalog) load(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	instruments, err := c.client.ListInstruments(ctx)
	if err != nil {
		c.listErr = err
		c.log.Warn().Err(err).Msg("Failed to list instruments, falling back to cached metadata")
		return
	}

	for _, inst := range instruments {
		key := c.canonicalize.Canonical(inst.Ticker)
		if _, exists := c.instruments[key]; !exists {
			c.instruments[key] = inst
		}
	}
}

// FindInstrument resolves a ticker to tradable metadata.
// Returns an error wrapping domain.ErrInstrumentNotFound when the ticker is unknown.
func (c *Catalog) FindInstrument(ctx context.Context, ticker string) (domain.Instrument, error) {
	key := c.canonicalize.Canonical(ticker)
	c.load(ctx)

	if inst, ok := c.instruments[key]; ok {
		if c.cacheRepo != nil && c.listErr == nil {
			if err := c.cacheRepo.Store(clientdata.TableInstruments, key, inst, clientdata.TTLInstrument); err != nil {
				c.log.Debug().Err(err).Str("ticker", key).Msg("Failed to cache instrument")
			}
		}
		return inst, nil
	}

	if c.listErr != nil && c.cacheRepo != nil {
		data, err := c.cacheRepo.Get(clientdata.TableInstruments, key)
		if err == nil && data != nil {
			var inst domain.Instrument
			if err := json.Unmarshal(data, &inst); err == nil {
				c.instruments[key] = inst
				return inst, nil
			}
		}
	}

	return domain.Instrument{}, fmt.Errorf("%s: %w", key, domain.ErrInstrumentNotFound)
}

// LastPrice returns the last known price of an instrument.
// Returns an error wrapping domain.ErrPriceUnavailable when no positive price exists.
func (c *Catalog) LastPrice(ctx context.Context, instrumentID string) (float64, error) {
	if price, ok := c.prices[instrumentID]; ok {
		return price, nil
	}
	if c.priceMisses[instrumentID] {
		return 0, fmt.Errorf("%s: %w", instrumentID, domain.ErrPriceUnavailable)
	}

	prices, err := c.client.GetLastPrices(ctx, []string{instrumentID})
	if err != nil {
		c.log.Warn().Err(err).Str("instrument_id", instrumentID).Msg("Failed to fetch last price")
		c.priceMisses[instrumentID] = true
		return 0, fmt.Errorf("%s: %w", instrumentID, domain.ErrPriceUnavailable)
	}

	price, ok := prices[instrumentID]
	if !ok || price <= 0 {
		c.priceMisses[instrumentID] = true
		return 0, fmt.Errorf("%s: %w", instrumentID, domain.ErrPriceUnavailable)
	}

	c.prices[instrumentID] = price
	return price, nil
}
