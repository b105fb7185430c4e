package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/rebalancer/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// SnapshotPruner deletes snapshots dated before a day key
type SnapshotPruner interface {
	DeleteBefore(ctx context.Context, date string) (int64, error)
}

// OrderPruner deletes order history older than a cutoff
type OrderPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob removes snapshots and order history older than the retention window
type RetentionJob struct {
	snapshots SnapshotPruner
	orders    OrderPruner
	days      int
	location  *time.Location
	now       func() time.Time
	log       zerolog.Logger
}

// NewRetentionJob creates a new retention job. Either pruner may be nil.
func NewRetentionJob(
	snapshotPruner SnapshotPruner,
	orderPruner OrderPruner,
	days int,
	location *time.Location,
	log zerolog.Logger,
) *RetentionJob {
	if location == nil {
		location = time.UTC
	}
	return &RetentionJob{
		snapshots: snapshotPruner,
		orders:    orderPruner,
		days:      days,
		location:  location,
		now:       time.Now,
		log:       log.With().Str("job", "retention").Logger(),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "retention"
}

// Run deletes expired rows from both stores and reports every failure
func (j *RetentionJob) Run() error {
	ctx := context.Background()
	cutoff := j.now().In(j.location).AddDate(0, 0, -j.days)
	var errs []error

	if j.snapshots != nil {
		deleted, err := j.snapshots.DeleteBefore(ctx, snapshots.DateKey(cutoff))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to prune snapshots: %w", err))
		} else {
			j.log.Debug().Int64("deleted", deleted).Msg("Pruned snapshots")
		}
	}

	if j.orders != nil {
		deleted, err := j.orders.DeleteBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to prune order history: %w", err))
		} else {
			j.log.Debug().Int64("deleted", deleted).Msg("Pruned order history")
		}
	}

	j.log.Info().
		Time("cutoff", cutoff).
		Int("errors", len(errs)).
		Msg("Retention run completed")

	return errors.Join(errs...)
}
