// Package snapshots stores the damped allocation of each iteration and blends
// new allocations with the stored one.
package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DateLayout is the calendar-day key of a snapshot
const DateLayout = "2006-01-02"

// Snapshot is the allocation persisted for an account on one calendar day
type Snapshot struct {
	AccountID  string            `json:"account_id"`
	Date       string            `json:"date"`
	Allocation domain.Allocation `json:"allocation"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store reads and writes snapshots
type Store interface {
	// Read returns nil, nil when no snapshot exists for the key
	Read(ctx context.Context, accountID, date string) (*Snapshot, error)
	// Write replaces the snapshot for (AccountID, Date)
	Write(ctx context.Context, snapshot Snapshot) error
}

// DateKey returns the snapshot key for a moment, in that moment's location
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Repository is a SQLite-backed Store
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// Read returns the snapshot for an account and date
func (r *Repository) Read(ctx context.Context, accountID, date string) (*Snapshot, error) {
	var (
		payload   []byte
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT allocation, updated_at FROM allocation_snapshots WHERE account_id = ? AND snapshot_date = ?",
		accountID, date,
	).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s/%s: %w", accountID, date, err)
	}

	var allocation domain.Allocation
	if err := msgpack.Unmarshal(payload, &allocation); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", accountID, date, err)
	}

	return &Snapshot{
		AccountID:  accountID,
		Date:       date,
		Allocation: allocation,
		UpdatedAt:  time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// Write stores the snapshot, fully replacing any existing row for the key
func (r *Repository) Write(ctx context.Context, snapshot Snapshot) error {
	if snapshot.AccountID == "" || snapshot.Date == "" {
		return fmt.Errorf("snapshot requires account id and date")
	}

	payload, err := msgpack.Marshal(snapshot.Allocation)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	updatedAt := snapshot.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO allocation_snapshots (account_id, snapshot_date, allocation, updated_at) VALUES (?, ?, ?, ?)",
		snapshot.AccountID, snapshot.Date, payload, updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write snapshot %s/%s: %w", snapshot.AccountID, snapshot.Date, err)
	}

	r.log.Debug().
		Str("account_id", snapshot.AccountID).
		Str("date", snapshot.Date).
		Int("tickers", len(snapshot.Allocation)).
		Msg("Snapshot written")

	return nil
}

// DeleteBefore removes snapshots older than the given date. Returns rows deleted.
func (r *Repository) DeleteBefore(ctx context.Context, date string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM allocation_snapshots WHERE snapshot_date < ?", date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return result.RowsAffected()
}
