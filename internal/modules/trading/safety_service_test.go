package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedCalendar bool

func (c fixedCalendar) IsMarketOpen(time.Time) bool { return bool(c) }

type stubLedger struct {
	seen map[string]bool
	err  error
}

func (l stubLedger) Exists(_ context.Context, orderID string) (bool, error) {
	return l.seen[orderID], l.err
}

func TestValidateTrade(t *testing.T) {
	held := map[string]int{"FIGI-TBRU": 12}

	tests := []struct {
		name     string
		dryRun   bool
		calendar MarketCalendar
		ledger   OrderLedger
		order    domain.OrderRequest
		errMsg   string
	}{
		{name: "valid buy", order: order("TMON", domain.DirectionBuy, 1)},
		{name: "valid sell", order: order("TBRU", domain.DirectionSell, 12)},
		{name: "dry run", dryRun: true, order: order("TMON", domain.DirectionBuy, 1), errMsg: "dry run"},
		{name: "zero lots", order: order("TMON", domain.DirectionBuy, 0), errMsg: "0 lots"},
		{name: "no instrument", order: domain.OrderRequest{AccountID: "acc", Ticker: "X", Lots: 1, Direction: domain.DirectionBuy}, errMsg: "no instrument id"},
		{name: "bad direction", order: order("TMON", "HOLD", 1), errMsg: "unknown direction"},
		{name: "market closed", calendar: fixedCalendar(false), order: order("TMON", domain.DirectionBuy, 1), errMsg: "market is closed"},
		{name: "market open", calendar: fixedCalendar(true), order: order("TMON", domain.DirectionBuy, 1)},
		{name: "oversell", order: order("TBRU", domain.DirectionSell, 13), errMsg: "only 12 held"},
		{name: "sell not held", order: order("TGLD", domain.DirectionSell, 1), errMsg: "only 0 held"},
		{
			name:   "duplicate",
			ledger: stubLedger{seen: map[string]bool{"order-TMON-BUY": true}},
			order:  order("TMON", domain.DirectionBuy, 1),
			errMsg: "already submitted",
		},
		{
			name:   "ledger failure is not fatal",
			ledger: stubLedger{err: errors.New("locked")},
			order:  order("TMON", domain.DirectionBuy, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safety := NewTradeSafetyService(tt.calendar, tt.ledger, tt.dryRun, zerolog.Nop())
			err := safety.ValidateTrade(context.Background(), tt.order, held)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateTrade_DryRunIsTyped(t *testing.T) {
	safety := NewTradeSafetyService(nil, nil, true, zerolog.Nop())
	assert.True(t, safety.DryRun())
	assert.ErrorIs(t, safety.ValidateTrade(context.Background(), order("TMON", domain.DirectionBuy, 1), nil), ErrTradingBlocked)
}
