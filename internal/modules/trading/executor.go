package trading

import (
	"context"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultOrderDelay is the pause between two orders
const DefaultOrderDelay = 3 * time.Second

// OrderRecorder persists submitted orders
type OrderRecorder interface {
	Create(ctx context.Context, order ExecutedOrder) error
}

// Executor submits orders one at a time with a fixed delay between them.
// A failed order is recorded and the batch continues.
type Executor struct {
	broker   domain.BrokerClient
	safety   *TradeSafetyService
	recorder OrderRecorder
	delay    time.Duration
	wait     func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// NewExecutor creates a new executor. safety and recorder are optional.
func NewExecutor(
	broker domain.BrokerClient,
	safety *TradeSafetyService,
	recorder OrderRecorder,
	delay time.Duration,
	log zerolog.Logger,
) *Executor {
	if delay < 0 {
		delay = 0
	}
	return &Executor{
		broker:   broker,
		safety:   safety,
		recorder: recorder,
		delay:    delay,
		wait:     sleepContext,
		log:      log.With().Str("service", "executor").Logger(),
	}
}

// Execute submits orders in the given order. held maps instrument ids to the
// whole lots held before the batch; sells are validated against it. The batch
// stops early only when ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, planID string, orders []domain.OrderRequest, held map[string]int) Report {
	report := Report{PlanID: planID, Orders: make([]ExecutedOrder, 0, len(orders))}

	available := make(map[string]int, len(held))
	for id, lots := range held {
		available[id] = lots
	}

	for i, order := range orders {
		if i > 0 && e.delay > 0 {
			if err := e.wait(ctx, e.delay); err != nil {
				e.log.Warn().Err(err).Int("remaining", len(orders)-i).Msg("Order batch cancelled")
				report.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		log := e.log.With().
			Str("account_id", order.AccountID).
			Str("ticker", order.Ticker).
			Str("direction", string(order.Direction)).
			Int("lots", order.Lots).
			Logger()

		record := ExecutedOrder{
			OrderID:      order.OrderID,
			AccountID:    order.AccountID,
			PlanID:       planID,
			Ticker:       order.Ticker,
			InstrumentID: order.InstrumentID,
			Direction:    order.Direction,
			Lots:         order.Lots,
			ExecutedAt:   time.Now().UTC(),
		}

		if e.safety != nil {
			if err := e.safety.ValidateTrade(ctx, order, available); err != nil {
				log.Warn().Err(err).Msg("Order rejected by safety checks")
				metrics.OrdersTotal.WithLabelValues(string(order.Direction), "rejected").Inc()
				report.Rejected++
				record.Status = "rejected"
				record.Error = err.Error()
				report.Orders = append(report.Orders, record)
				continue
			}
		}

		result, err := e.broker.PlaceOrder(ctx, order)
		if err != nil {
			log.Error().Err(err).Msg("Order failed, continuing with the batch")
			metrics.OrdersTotal.WithLabelValues(string(order.Direction), StatusFailed).Inc()
			report.Failed++
			record.Status = StatusFailed
			record.Error = err.Error()
			e.record(ctx, record)
			report.Orders = append(report.Orders, record)
			continue
		}

		if order.Direction == domain.DirectionSell {
			available[order.InstrumentID] -= order.Lots
		}
		record.Status = result.Status
		record.LotsExecuted = result.LotsExecuted
		record.Price = result.Price
		if result.OrderID != "" && record.OrderID == "" {
			record.OrderID = result.OrderID
		}

		log.Info().
			Str("order_id", record.OrderID).
			Str("status", result.Status).
			Int("lots_executed", result.LotsExecuted).
			Msg("Order submitted")
		metrics.OrdersTotal.WithLabelValues(string(order.Direction), "submitted").Inc()
		report.Submitted++
		e.record(ctx, record)
		report.Orders = append(report.Orders, record)
	}

	return report
}

func (e *Executor) record(ctx context.Context, order ExecutedOrder) {
	if e.recorder == nil || order.OrderID == "" {
		return
	}
	// the batch may be cancelled while the order itself went through
	if err := e.recorder.Create(context.WithoutCancel(ctx), order); err != nil {
		e.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("Failed to record order")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
