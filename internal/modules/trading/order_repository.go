package trading

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// executedOrderColumns matches scanOrder
const executedOrderColumns = `order_id, account_id, plan_id, ticker, instrument_id, direction, lots, status, lots_executed, price, error, executed_at`

// OrderRepository stores submitted orders in the snapshots database
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		db:  db,
		log: log.With().Str("repo", "executed_orders").Logger(),
	}
}

// Create inserts an order record. A record with the same order id is left as is.
func (r *OrderRepository) Create(ctx context.Context, order ExecutedOrder) error {
	if order.OrderID == "" {
		return fmt.Errorf("failed to create order: order id is required")
	}

	exists, err := r.Exists(ctx, order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to check for existing order: %w", err)
	}
	if exists {
		r.log.Debug().Str("order_id", order.OrderID).Msg("Order already recorded, skipping duplicate")
		return nil
	}

	executedAt := order.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executed_orders
		(`+executedOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		order.OrderID,
		order.AccountID,
		order.PlanID,
		order.Ticker,
		order.InstrumentID,
		string(order.Direction),
		order.Lots,
		order.Status,
		order.LotsExecuted,
		order.Price,
		nullString(order.Error),
		executedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Exists checks if an order with the given id was recorded
func (r *OrderRepository) Exists(ctx context.Context, orderID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM executed_orders WHERE order_id = ? LIMIT 1", orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order existence: %w", err)
	}
	return true, nil
}

// GetHistory returns the most recent orders of an account, newest first
func (r *OrderRepository) GetHistory(ctx context.Context, accountID string, limit int) ([]ExecutedOrder, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executedOrderColumns+`
		FROM executed_orders
		WHERE account_id = ?
		ORDER BY executed_at DESC, order_id
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	orders := []ExecutedOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate order history: %w", err)
	}
	return orders, nil
}

// DeleteBefore removes orders executed before the cutoff
func (r *OrderRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM executed_orders WHERE executed_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old orders: %w", err)
	}
	return result.RowsAffected()
}

func scanOrder(rows *sql.Rows) (ExecutedOrder, error) {
	var (
		order      ExecutedOrder
		direction  string
		errMsg     sql.NullString
		executedAt int64
	)
	err := rows.Scan(
		&order.OrderID,
		&order.AccountID,
		&order.PlanID,
		&order.Ticker,
		&order.InstrumentID,
		&direction,
		&order.Lots,
		&order.Status,
		&order.LotsExecuted,
		&order.Price,
		&errMsg,
		&executedAt,
	)
	if err != nil {
		return ExecutedOrder{}, fmt.Errorf("failed to scan order: %w", err)
	}
	order.Direction = domain.OrderDirection(direction)
	order.Error = errMsg.String
	order.ExecutedAt = time.Unix(executedAt, 0).UTC()
	return order, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
