package scheduler

import (
	"errors"
	"sort"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/rs/zerolog"
)

// walTruncateFrames is the WAL size above which the check escalates to TRUNCATE
const walTruncateFrames = 1000

// CheckWALCheckpointsJob runs a passive checkpoint on every database, exports
// the WAL size and truncates logs that autocheckpoint has not kept small.
type CheckWALCheckpointsJob struct {
	databases map[string]*database.DB
	threshold int
	log       zerolog.Logger
}

// NewCheckWALCheckpointsJob creates the job. Nil databases are skipped.
func NewCheckWALCheckpointsJob(databases map[string]*database.DB, log zerolog.Logger) *CheckWALCheckpointsJob {
	return &CheckWALCheckpointsJob{
		databases: databases,
		threshold: walTruncateFrames,
		log:       log.With().Str("job", "check_wal_checkpoints").Logger(),
	}
}

// Name returns the job name
func (j *CheckWALCheckpointsJob) Name() string {
	return "check_wal_checkpoints"
}

// Run checks each database in name order. A failing database does not stop the others.
func (j *CheckWALCheckpointsJob) Run() error {
	names := make([]string, 0, len(j.databases))
	for name, db := range j.databases {
		if db != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := j.check(name, j.databases[name]); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL check failed")
			errs = append(errs, err)
		}
	}

	j.log.Info().Int("checked", len(names)-len(errs)).Int("failed", len(errs)).Msg("WAL check completed")
	return errors.Join(errs...)
}

func (j *CheckWALCheckpointsJob) check(name string, db *database.DB) error {
	res, err := db.Checkpoint("PASSIVE")
	if err != nil {
		return err
	}
	metrics.WALFrames.WithLabelValues(name).Set(float64(res.Frames))

	if res.Frames <= j.threshold {
		j.log.Debug().Str("database", name).Int("wal_frames", res.Frames).Msg("WAL size OK")
		return nil
	}

	j.log.Warn().
		Str("database", name).
		Int("wal_frames", res.Frames).
		Int("checkpointed", res.Checkpointed).
		Bool("busy", res.Busy).
		Msg("WAL above threshold, truncating")

	truncated, err := db.Checkpoint("TRUNCATE")
	if err != nil {
		return err
	}
	metrics.WALFrames.WithLabelValues(name).Set(float64(truncated.Frames))
	return nil
}
