package database

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "nested", name+".db"),
		Name: name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableNames(t *testing.T, db *DB) []string {
	t.Helper()
	rows, err := db.Conn().Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name   string
		tables []string
	}{
		{NameSnapshots, []string{"allocation_snapshots", "executed_orders"}},
		{NameClientData, []string{"exchangerate", "instruments", "valuation_metrics"}},
		{"scratch", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, tt.name)
			assert.Equal(t, ProfileStandard, db.profile)

			_, err := os.Stat(db.Path())
			require.NoError(t, err)

			require.NoError(t, db.Migrate())
			require.NoError(t, db.Migrate(), "schemas are idempotent")
			assert.Equal(t, tt.tables, tableNames(t, db))
		})
	}
}

func TestWithTransaction(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fn      func(tx *sql.Tx) error
		wantErr string
		rows    int
	}{
		{
			name: "commits",
			fn: func(tx *sql.Tx) error {
				_, err := tx.Exec("INSERT INTO kv (v) VALUES ('a')")
				return err
			},
			rows: 1,
		},
		{
			name: "rolls back on error",
			fn: func(tx *sql.Tx) error {
				if _, err := tx.Exec("INSERT INTO kv (v) VALUES ('a')"); err != nil {
					return err
				}
				return boom
			},
			wantErr: "transaction failed: boom",
		},
		{
			name: "rolls back on panic",
			fn: func(tx *sql.Tx) error {
				if _, err := tx.Exec("INSERT INTO kv (v) VALUES ('a')"); err != nil {
					return err
				}
				panic("kaput")
			},
			wantErr: "panic in transaction: kaput",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, "tx")
			_, err := db.Conn().Exec("CREATE TABLE kv (v TEXT)")
			require.NoError(t, err)

			err = WithTransaction(db.Conn(), tt.fn)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			var count int
			require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM kv").Scan(&count))
			assert.Equal(t, tt.rows, count)
		})
	}

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
	})
}

func TestCheckpoint(t *testing.T) {
	db := openTestDB(t, NameSnapshots)
	require.NoError(t, db.Migrate())

	tests := []struct {
		mode    string
		wantErr bool
	}{
		{"PASSIVE", false},
		{"truncate", false},
		{"FULL; DROP TABLE executed_orders", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			res, err := db.Checkpoint(tt.mode)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.Busy)
			assert.GreaterOrEqual(t, res.Frames, res.Checkpointed)
		})
	}

	assert.NoError(t, db.WALCheckpoint(""))
	assert.Contains(t, tableNames(t, db), "executed_orders")
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t, NameClientData)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.SizeBytes)
	assert.Positive(t, stats.PageCount)
	assert.Equal(t, int64(4096), stats.PageSize)
}
