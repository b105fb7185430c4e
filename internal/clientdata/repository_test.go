package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema creates all tables needed for testing
const testSchema = `
CREATE TABLE valuation_metrics (ticker TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE exchangerate (pair TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE instruments (ticker TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insertRow(t *testing.T, db *sql.DB, table, keyCol, key string, expiresAt int64) {
	_, err := db.Exec("INSERT INTO "+table+" ("+keyCol+", data, expires_at) VALUES (?, ?, ?)", key, `{"v":1}`, expiresAt)
	require.NoError(t, err)
}

func TestStore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	data := map[string]interface{}{"market_cap": 1.5e9, "currency": "RUB"}
	err := repo.Store(TableValuationMetrics, "TRUR", data, TTLValuationMetrics)
	require.NoError(t, err)

	var storedData string
	var expiresAt int64
	err = db.QueryRow("SELECT data, expires_at FROM valuation_metrics WHERE ticker = ?", "TRUR").Scan(&storedData, &expiresAt)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(storedData), &parsed))
	assert.Equal(t, "RUB", parsed["currency"])

	expected := time.Now().Add(TTLValuationMetrics).Unix()
	assert.InDelta(t, expected, expiresAt, 5)
}

func TestStoreUpsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	require.NoError(t, repo.Store(TableExchangeRate, "USD:RUB", 90.0, time.Hour))
	require.NoError(t, repo.Store(TableExchangeRate, "USD:RUB", 95.5, time.Hour))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM exchangerate").Scan(&count))
	assert.Equal(t, 1, count)

	raw, err := repo.GetIfFresh(TableExchangeRate, "USD:RUB")
	require.NoError(t, err)
	assert.JSONEq(t, "95.5", string(raw))
}

func TestGetIfFresh(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	now := time.Now()

	insertRow(t, db, TableInstruments, "ticker", "FRESH", now.Add(time.Hour).Unix())
	insertRow(t, db, TableInstruments, "ticker", "STALE", now.Add(-time.Hour).Unix())

	tests := []struct {
		name      string
		key       string
		wantFound bool
	}{
		{"fresh entry", "FRESH", true},
		{"expired entry", "STALE", false},
		{"missing entry", "NOPE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := repo.GetIfFresh(TableInstruments, tt.key)
			require.NoError(t, err)
			if tt.wantFound {
				assert.NotNil(t, raw)
			} else {
				assert.Nil(t, raw)
			}
		})
	}
}

func TestGet_ReturnsStaleData(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	insertRow(t, db, TableValuationMetrics, "ticker", "TMOS", time.Now().Add(-48*time.Hour).Unix())

	raw, err := repo.Get(TableValuationMetrics, "TMOS")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(raw))

	raw, err = repo.Get(TableValuationMetrics, "MISSING")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	require.NoError(t, repo.Store(TableValuationMetrics, "TGLD", 1, time.Hour))
	require.NoError(t, repo.Delete(TableValuationMetrics, "TGLD"))
	require.NoError(t, repo.Delete(TableValuationMetrics, "NEVER_STORED"))

	raw, err := repo.Get(TableValuationMetrics, "TGLD")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDeleteAllExpired(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	now := time.Now()

	insertRow(t, db, TableValuationMetrics, "ticker", "OLD", now.Add(-time.Hour).Unix())
	insertRow(t, db, TableValuationMetrics, "ticker", "NEW", now.Add(time.Hour).Unix())
	insertRow(t, db, TableExchangeRate, "pair", "USD:RUB", now.Add(-time.Minute).Unix())
	insertRow(t, db, TableInstruments, "ticker", "TRUR", now.Add(time.Hour).Unix())

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)

	assert.Equal(t, int64(1), results[TableValuationMetrics])
	assert.Equal(t, int64(1), results[TableExchangeRate])
	assert.Equal(t, int64(0), results[TableInstruments])

	var remaining int
	require.NoError(t, db.QueryRow("SELECT (SELECT COUNT(*) FROM valuation_metrics) + (SELECT COUNT(*) FROM exchangerate) + (SELECT COUNT(*) FROM instruments)").Scan(&remaining))
	assert.Equal(t, 2, remaining)
}

func TestKeyColumn(t *testing.T) {
	tests := []struct {
		table string
		want  string
	}{
		{TableExchangeRate, "pair"},
		{TableValuationMetrics, "ticker"},
		{TableInstruments, "ticker"},
	}
	for _, tt := range tests {
		col, err := keyColumn(tt.table)
		require.NoError(t, err)
		assert.Equal(t, tt.want, col, tt.table)
	}
}

func TestDeleteAllExpired_ContinuesPastFailingTable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	now := time.Now()
	insertRow(t, db, TableValuationMetrics, "ticker", "OLD", now.Add(-time.Hour).Unix())
	insertRow(t, db, TableInstruments, "ticker", "OLD", now.Add(-time.Hour).Unix())
	_, err := db.Exec("DROP TABLE exchangerate")
	require.NoError(t, err)

	results, err := repo.DeleteAllExpired()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchangerate")
	assert.Equal(t, int64(1), results[TableValuationMetrics])
	assert.Equal(t, int64(1), results[TableInstruments])
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	insertRow(t, db, TableValuationMetrics, "ticker", "OLD", now.Add(-time.Hour).Unix())
	insertRow(t, db, TableValuationMetrics, "ticker", "NEW", now.Add(time.Hour).Unix())
	insertRow(t, db, TableInstruments, "ticker", "TRUR", now.Add(-time.Minute).Unix())

	stats, err := repo.Stats()
	require.NoError(t, err)

	assert.Equal(t, []TableStats{
		{Table: TableValuationMetrics, Rows: 2, Expired: 1},
		{Table: TableExchangeRate, Rows: 0, Expired: 0},
		{Table: TableInstruments, Rows: 1, Expired: 1},
	}, stats)
}

func TestGetIfFresh_UsesRepositoryClock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)
	stored := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return stored }

	require.NoError(t, repo.Store(TableExchangeRate, "USD:RUB", map[string]float64{"rate": 90}, time.Hour))

	repo.now = func() time.Time { return stored.Add(59 * time.Minute) }
	data, err := repo.GetIfFresh(TableExchangeRate, "USD:RUB")
	require.NoError(t, err)
	assert.NotNil(t, data)

	repo.now = func() time.Time { return stored.Add(61 * time.Minute) }
	data, err = repo.GetIfFresh(TableExchangeRate, "USD:RUB")
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = repo.Get(TableExchangeRate, "USD:RUB")
	require.NoError(t, err)
	assert.JSONEq(t, `{"rate":90}`, string(data))
}

func TestInvalidTableName(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db)

	malicious := "valuation_metrics; DROP TABLE exchangerate; --"

	assert.Error(t, repo.Store(malicious, "k", 1, time.Hour))
	_, err := repo.GetIfFresh(malicious, "k")
	assert.Error(t, err)
	_, err = repo.Get(malicious, "k")
	assert.Error(t, err)
	assert.Error(t, repo.Delete(malicious, "k"))
	_, err = repo.DeleteExpired(malicious)
	assert.Error(t, err)
}
