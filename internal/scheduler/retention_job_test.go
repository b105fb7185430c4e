package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotPrunerStub struct {
	date string
	err  error
}

func (s *snapshotPrunerStub) DeleteBefore(_ context.Context, date string) (int64, error) {
	s.date = date
	return 3, s.err
}

type orderPrunerStub struct {
	cutoff time.Time
	err    error
}

func (s *orderPrunerStub) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoff = cutoff
	return 7, s.err
}

func TestRetentionJob_Run(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	snaps := &snapshotPrunerStub{}
	orders := &orderPrunerStub{}
	job := NewRetentionJob(snaps, orders, 30, moscow, zerolog.Nop())
	// 22:30 UTC is already the next day in Moscow
	job.now = func() time.Time { return time.Date(2026, 3, 31, 22, 30, 0, 0, time.UTC) }

	require.NoError(t, job.Run())
	assert.Equal(t, "2026-03-02", snaps.date)
	assert.True(t, orders.cutoff.Equal(time.Date(2026, 3, 2, 1, 30, 0, 0, moscow)))
	assert.Equal(t, "retention", job.Name())
}

func TestRetentionJob_ReportsEveryFailure(t *testing.T) {
	job := NewRetentionJob(
		&snapshotPrunerStub{err: errors.New("locked")},
		&orderPrunerStub{err: errors.New("disk full")},
		30, nil, zerolog.Nop(),
	)

	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked")
	assert.Contains(t, err.Error(), "disk full")
}

func TestRetentionJob_NilPruners(t *testing.T) {
	assert.NoError(t, NewRetentionJob(nil, nil, 30, time.UTC, zerolog.Nop()).Run())
}
