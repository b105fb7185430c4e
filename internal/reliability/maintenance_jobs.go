package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/rebalancer/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// Disk space thresholds in bytes
const (
	criticalFreeBytes = 500 * 1024 * 1024
	lowFreeBytes      = 5 * 1024 * 1024 * 1024
)

// DailyMaintenanceJob checkpoints every database and checks free disk space
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	usage     func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		usage:     disk.Usage,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Run executes the daily maintenance job. Only critically low disk space fails it.
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if err := db.QuickCheck(context.Background()); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Database is not reachable")
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
			continue
		}
		if stats, err := db.GetStats(); err == nil {
			j.log.Debug().
				Str("database", name).
				Int64("size_bytes", stats.SizeBytes).
				Int64("wal_size_bytes", stats.WALSizeBytes).
				Msg("Database checkpointed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed")

	return nil
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := j.usage(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Failed to read disk usage")
		return nil
	}

	availableGB := float64(usage.Free) / 1e9
	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	default:
		j.log.Debug().Float64("available_gb", availableGB).Float64("used_percent", usage.UsedPercent).Msg("Disk space check")
	}
	return nil
}

// BackupJob uploads a backup and rotates old ones
type BackupJob struct {
	service *BackupService
	keep    int
	log     zerolog.Logger
}

// NewBackupJob creates a backup job keeping the newest keep archives
func NewBackupJob(service *BackupService, keep int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		keep:    keep,
		log:     log.With().Str("job", "offsite_backup").Logger(),
	}
}

// Run creates and uploads a backup, then rotates. A failed rotation does not
// fail the job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("offsite backup failed: %w", err)
	}
	if _, err := j.service.RotateOldBackups(ctx, j.keep); err != nil {
		j.log.Error().Err(err).Msg("Failed to rotate old backups")
	}
	return nil
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "offsite_backup"
}
