package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/rebalancer/internal/domain"
)

// MockBrokerClient is an in-memory implementation of domain.BrokerClient for testing
type MockBrokerClient struct {
	mu          sync.RWMutex
	wallets     map[string]domain.Wallet
	instruments []domain.Instrument
	prices      map[string]float64
	orders      []domain.OrderRequest
	failOrders  map[string]error
	err         error
	priceCalls  int
	listCalls   int
}

// NewMockBrokerClient creates a new mock broker client
func NewMockBrokerClient() *MockBrokerClient {
	return &MockBrokerClient{
		wallets:    make(map[string]domain.Wallet),
		prices:     make(map[string]float64),
		failOrders: make(map[string]error),
	}
}

// SetWallet sets the portfolio returned for an account
func (m *MockBrokerClient) SetWallet(accountID string, wallet domain.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[accountID] = wallet.Clone()
}

// AddInstrument registers an instrument and its last price. A zero price is left unset.
func (m *MockBrokerClient) AddInstrument(instrument domain.Instrument, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments = append(m.instruments, instrument)
	if price > 0 {
		m.prices[instrument.ID] = price
	}
}

// SetError makes every read call fail
func (m *MockBrokerClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailOrdersFor makes orders for an instrument fail with err
func (m *MockBrokerClient) FailOrdersFor(instrumentID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOrders[instrumentID] = err
}

// Orders returns the orders submitted so far, in submission order
func (m *MockBrokerClient) Orders() []domain.OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.OrderRequest, len(m.orders))
	copy(out, m.orders)
	return out
}

// Calls returns how many times the catalog endpoints were hit
func (m *MockBrokerClient) Calls() (list, prices int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls, m.priceCalls
}

// GetPortfolio returns the configured wallet
func (m *MockBrokerClient) GetPortfolio(_ context.Context, accountID string) (domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	wallet, ok := m.wallets[accountID]
	if !ok {
		return nil, fmt.Errorf("unknown account %s", accountID)
	}
	return wallet.Clone(), nil
}

// ListInstruments returns the registered instruments
func (m *MockBrokerClient) ListInstruments(_ context.Context) ([]domain.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make([]domain.Instrument, len(m.instruments))
	copy(out, m.instruments)
	return out, nil
}

// GetLastPrices returns known prices for the requested ids
func (m *MockBrokerClient) GetLastPrices(_ context.Context, instrumentIDs []string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceCalls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]float64, len(instrumentIDs))
	for _, id := range instrumentIDs {
		if price, ok := m.prices[id]; ok {
			out[id] = price
		}
	}
	return out, nil
}

// PlaceOrder records the order and returns a filled acknowledgement
func (m *MockBrokerClient) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOrders[req.InstrumentID]; ok {
		return nil, err
	}
	m.orders = append(m.orders, req)
	return &domain.OrderResult{
		OrderID:      req.OrderID,
		Status:       "fill",
		LotsExecuted: req.Lots,
		Price:        m.prices[req.InstrumentID],
	}, nil
}

// MockCatalog is a map-backed domain.InstrumentCatalog
type MockCatalog struct {
	Instruments map[string]domain.Instrument
	Prices      map[string]float64
}

// NewMockCatalog creates an empty catalog
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		Instruments: make(map[string]domain.Instrument),
		Prices:      make(map[string]float64),
	}
}

// Add registers an instrument under its ticker with a price. A zero price is left unset.
func (c *MockCatalog) Add(instrument domain.Instrument, price float64) *MockCatalog {
	c.Instruments[instrument.Ticker] = instrument
	if price > 0 {
		c.Prices[instrument.ID] = price
	}
	return c
}

// FindInstrument looks up a ticker
func (c *MockCatalog) FindInstrument(_ context.Context, ticker string) (domain.Instrument, error) {
	instrument, ok := c.Instruments[ticker]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("%s: %w", ticker, domain.ErrInstrumentNotFound)
	}
	return instrument, nil
}

// LastPrice looks up a price by instrument id
func (c *MockCatalog) LastPrice(_ context.Context, instrumentID string) (float64, error) {
	price, ok := c.Prices[instrumentID]
	if !ok {
		return 0, fmt.Errorf("%s: %w", instrumentID, domain.ErrPriceUnavailable)
	}
	return price, nil
}
