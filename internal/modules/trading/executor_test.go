package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	testhelpers "github.com/aristath/rebalancer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order(ticker string, direction domain.OrderDirection, lots int) domain.OrderRequest {
	return domain.OrderRequest{
		AccountID:    "acc",
		Ticker:       ticker,
		InstrumentID: "FIGI-" + ticker,
		Lots:         lots,
		Direction:    direction,
		OrderID:      "order-" + ticker + "-" + string(direction),
	}
}

// newTestExecutor records requested delays instead of sleeping
func newTestExecutor(broker domain.BrokerClient, safety *TradeSafetyService, recorder OrderRecorder) (*Executor, *[]time.Duration) {
	executor := NewExecutor(broker, safety, recorder, 3*time.Second, zerolog.Nop())
	waits := &[]time.Duration{}
	executor.wait = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return executor, waits
}

func TestExecutor_SubmitsSequentiallyWithDelay(t *testing.T) {
	broker := testhelpers.NewMockBrokerClient()
	executor, waits := newTestExecutor(broker, nil, nil)

	orders := []domain.OrderRequest{
		order("TBRU", domain.DirectionSell, 6),
		order("TGLD", domain.DirectionBuy, 2),
		order("TMON", domain.DirectionBuy, 1),
	}
	report := executor.Execute(context.Background(), "plan-1", orders, map[string]int{"FIGI-TBRU": 12})

	assert.Equal(t, 3, report.Submitted)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Cancelled)
	assert.Equal(t, orders, broker.Orders())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *waits, "delay only between orders")
}

func TestExecutor_FailedOrderDoesNotAbortBatch(t *testing.T) {
	broker := testhelpers.NewMockBrokerClient()
	broker.FailOrdersFor("FIGI-TGLD", errors.New("insufficient funds"))
	executor, _ := newTestExecutor(broker, nil, nil)

	report := executor.Execute(context.Background(), "plan-1", []domain.OrderRequest{
		order("TGLD", domain.DirectionBuy, 2),
		order("TMON", domain.DirectionBuy, 1),
	}, nil)

	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Orders, 2)
	assert.Equal(t, StatusFailed, report.Orders[0].Status)
	assert.Equal(t, "insufficient funds", report.Orders[0].Error)
	assert.Equal(t, "fill", report.Orders[1].Status)
	require.Len(t, broker.Orders(), 1)
	assert.Equal(t, "TMON", broker.Orders()[0].Ticker)
}

func TestExecutor_StopsWhenCancelled(t *testing.T) {
	broker := testhelpers.NewMockBrokerClient()
	executor, _ := newTestExecutor(broker, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	executor.wait = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	report := executor.Execute(ctx, "plan-1", []domain.OrderRequest{
		order("TGLD", domain.DirectionBuy, 2),
		order("TMON", domain.DirectionBuy, 1),
	}, nil)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Submitted)
	assert.Len(t, broker.Orders(), 1)
}

func TestExecutor_SafetyRejectsOversell(t *testing.T) {
	broker := testhelpers.NewMockBrokerClient()
	safety := NewTradeSafetyService(nil, nil, false, zerolog.Nop())
	executor, _ := newTestExecutor(broker, safety, nil)

	report := executor.Execute(context.Background(), "plan-1", []domain.OrderRequest{
		order("TBRU", domain.DirectionSell, 8),
		{AccountID: "acc", Ticker: "TBRU", InstrumentID: "FIGI-TBRU", Lots: 5, Direction: domain.DirectionSell, OrderID: "second"},
	}, map[string]int{"FIGI-TBRU": 12})

	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, "rejected", report.Orders[1].Status)
	assert.Contains(t, report.Orders[1].Error, "only 4 held")
}

func TestExecutor_RecordsOrders(t *testing.T) {
	db := testhelpers.NewTestDB(t, "snapshots")
	repo := NewOrderRepository(db.Conn(), zerolog.Nop())
	broker := testhelpers.NewMockBrokerClient()
	broker.FailOrdersFor("FIGI-TGLD", errors.New("rejected by exchange"))
	executor, _ := newTestExecutor(broker, nil, repo)

	executor.Execute(context.Background(), "plan-7", []domain.OrderRequest{
		order("TBRU", domain.DirectionSell, 1),
		order("TGLD", domain.DirectionBuy, 1),
	}, map[string]int{"FIGI-TBRU": 1})

	history, err := repo.GetHistory(context.Background(), "acc", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	byTicker := map[string]ExecutedOrder{}
	for _, o := range history {
		byTicker[o.Ticker] = o
	}
	assert.Equal(t, "fill", byTicker["TBRU"].Status)
	assert.Equal(t, "plan-7", byTicker["TBRU"].PlanID)
	assert.Equal(t, StatusFailed, byTicker["TGLD"].Status)
	assert.Equal(t, "rejected by exchange", byTicker["TGLD"].Error)
}
