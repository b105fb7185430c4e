package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// ErrTradingBlocked is returned for every order while dry run is on
var ErrTradingBlocked = errors.New("trading blocked: dry run")

// MarketCalendar reports whether the exchange is trading
type MarketCalendar interface {
	IsMarketOpen(t time.Time) bool
}

// OrderLedger reports whether an order id was already submitted
type OrderLedger interface {
	Exists(ctx context.Context, orderID string) (bool, error)
}

// TradeSafetyService validates orders before execution
type TradeSafetyService struct {
	calendar MarketCalendar
	ledger   OrderLedger
	dryRun   bool
	now      func() time.Time
	log      zerolog.Logger
}

// NewTradeSafetyService creates a new trade safety service. calendar and
// ledger are optional.
func NewTradeSafetyService(calendar MarketCalendar, ledger OrderLedger, dryRun bool, log zerolog.Logger) *TradeSafetyService {
	return &TradeSafetyService{
		calendar: calendar,
		ledger:   ledger,
		dryRun:   dryRun,
		now:      time.Now,
		log:      log.With().Str("service", "trade_safety").Logger(),
	}
}

// DryRun reports whether orders are blocked
func (s *TradeSafetyService) DryRun() bool {
	return s.dryRun
}

// ValidateTrade runs all validation layers and returns an error if any check
// fails. held maps instrument ids to whole lots still available for selling.
func (s *TradeSafetyService) ValidateTrade(ctx context.Context, order domain.OrderRequest, held map[string]int) error {
	// Layer 0: dry run blocks everything
	if s.dryRun {
		return ErrTradingBlocked
	}

	// Layer 1: order shape
	if err := validateShape(order); err != nil {
		return err
	}

	// Layer 2: market hours
	if s.calendar != nil && !s.calendar.IsMarketOpen(s.now()) {
		return fmt.Errorf("market is closed")
	}

	// Layer 3: duplicate submission
	if s.ledger != nil && order.OrderID != "" {
		exists, err := s.ledger.Exists(ctx, order.OrderID)
		if err != nil {
			s.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("Failed to check order ledger")
		} else if exists {
			return fmt.Errorf("order %s was already submitted", order.OrderID)
		}
	}

	// Layer 4: sells never exceed held lots
	if order.Direction == domain.DirectionSell {
		if available := held[order.InstrumentID]; order.Lots > available {
			return fmt.Errorf("cannot sell %d lots of %s: only %d held", order.Lots, order.Ticker, available)
		}
	}

	return nil
}

func validateShape(order domain.OrderRequest) error {
	if order.AccountID == "" {
		return fmt.Errorf("order has no account id")
	}
	if order.InstrumentID == "" {
		return fmt.Errorf("order for %s has no instrument id", order.Ticker)
	}
	if order.Lots <= 0 {
		return fmt.Errorf("order for %s has %d lots", order.Ticker, order.Lots)
	}
	if order.Direction != domain.DirectionBuy && order.Direction != domain.DirectionSell {
		return fmt.Errorf("order for %s has unknown direction %q", order.Ticker, order.Direction)
	}
	return nil
}
