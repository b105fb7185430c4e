// Package clientdata caches external API responses (valuations, exchange
// rates, broker instruments) as JSON blobs with an expiry timestamp.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Table names
const (
	TableValuationMetrics = "valuation_metrics"
	TableExchangeRate     = "exchangerate"
	TableInstruments      = "instruments"
)

// AllTables lists every cache table in client_data.db, in cleanup order
var AllTables = []string{
	TableValuationMetrics,
	TableExchangeRate,
	TableInstruments,
}

// keyColumns maps each table to its natural key. A table missing here is rejected,
// which also keeps table names out of reach of callers building SQL.
var keyColumns = map[string]string{
	TableValuationMetrics: "ticker",
	TableExchangeRate:     "pair",
	TableInstruments:      "ticker",
}

// TableStats describes the contents of one cache table
type TableStats struct {
	Table   string `json:"table"`
	Rows    int64  `json:"rows"`
	Expired int64  `json:"expired"`
}

// Repository provides cache operations for client data
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func keyColumn(table string) (string, error) {
	col, ok := keyColumns[table]
	if !ok {
		return "", fmt.Errorf("invalid table name: %s", table)
	}
	return col, nil
}

// Store upserts data under key, expiring after ttl
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, data, expires_at) VALUES (?, ?, ?)", table, col)
	if _, err := r.db.Exec(query, key, string(payload), r.now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}
	return nil
}

// GetIfFresh returns the cached payload while it has not expired.
// A missing or expired key returns nil, nil.
func (r *Repository) GetIfFresh(table, key string) (json.RawMessage, error) {
	return r.get(table, key, true)
}

// Get returns the cached payload regardless of expiry, the fallback when a
// live call fails. A missing key returns nil, nil.
func (r *Repository) Get(table, key string) (json.RawMessage, error) {
	return r.get(table, key, false)
}

func (r *Repository) get(table, key string, freshOnly bool) (json.RawMessage, error) {
	col, err := keyColumn(table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE %s = ?", table, col)
	args := []interface{}{key}
	if freshOnly {
		query += " AND expires_at > ?"
		args = append(args, r.now().Unix())
	}

	var data string
	err = r.db.QueryRow(query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data from %s: %w", table, err)
	}
	return json.RawMessage(data), nil
}

// Delete removes a specific entry
func (r *Repository) Delete(table, key string) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, col), key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes expired rows from one table and returns how many
func (r *Repository) DeleteExpired(table string) (int64, error) {
	if _, err := keyColumn(table); err != nil {
		return 0, err
	}

	result, err := r.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired cleans every table. A failing table does not stop the
// others; all failures are returned joined.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64, len(AllTables))
	var errs []error

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[table] = deleted
	}

	return results, errors.Join(errs...)
}

// Stats counts total and expired rows per table
func (r *Repository) Stats() ([]TableStats, error) {
	now := r.now().Unix()
	stats := make([]TableStats, 0, len(AllTables))

	for _, table := range AllTables {
		s := TableStats{Table: table}
		query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(expires_at < ?), 0) FROM %s", table)
		if err := r.db.QueryRow(query, now).Scan(&s.Rows, &s.Expired); err != nil {
			return nil, fmt.Errorf("failed to count rows in %s: %w", table, err)
		}
		stats = append(stats, s)
	}
	return stats, nil
}
