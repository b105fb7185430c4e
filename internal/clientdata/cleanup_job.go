package clientdata

import (
	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/rs/zerolog"
)

// CleanupJob evicts expired cache rows and reports what remains
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a new client data cleanup job
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Run evicts expired rows from every table. Tables that fail are reported
// after the others have been cleaned.
func (j *CleanupJob) Run() error {
	results, err := j.repo.DeleteAllExpired()

	var total int64
	for _, table := range AllTables {
		count, ok := results[table]
		if !ok {
			continue
		}
		metrics.CacheEvictions.WithLabelValues(table).Add(float64(count))
		total += count
	}

	if stats, statsErr := j.repo.Stats(); statsErr == nil {
		for _, s := range stats {
			metrics.CacheEntries.WithLabelValues(s.Table).Set(float64(s.Rows))
		}
	}

	if err != nil {
		j.log.Error().Err(err).Int64("evicted", total).Msg("Client data cleanup incomplete")
		return err
	}

	j.log.Info().Int64("evicted", total).Msg("Client data cleanup completed")
	return nil
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}
