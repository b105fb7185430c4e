// Package di provides dependency injection for scheduler jobs.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/rebalancer/internal/clientdata"
	"github.com/aristath/rebalancer/internal/config"
	"github.com/aristath/rebalancer/internal/reliability"
	"github.com/aristath/rebalancer/internal/scheduler"
	"github.com/rs/zerolog"
)

// walCheckSchedule runs the passive WAL check at the top of every hour
const walCheckSchedule = "0 0 * * * *"

// JobInstances holds references to registered jobs for manual triggering
type JobInstances struct {
	Rebalance         *scheduler.RebalanceJob
	ClientDataCleanup *clientdata.CleanupJob
	Retention         *scheduler.RetentionJob
	DailyMaintenance  *reliability.DailyMaintenanceJob
	CheckWAL          *scheduler.CheckWALCheckpointsJob
	Backup            *reliability.BackupJob // nil when backups are disabled
}

// RegisterJobs creates every job and adds it to the scheduler.
// ctx bounds the rebalance job: cancelling it stops an iteration between accounts.
func RegisterJobs(ctx context.Context, container *Container, sched *scheduler.Scheduler, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	databases := container.Databases()
	instances := &JobInstances{
		Rebalance:         scheduler.NewRebalanceJob(ctx, cfg.Accounts, container.Runner, log),
		ClientDataCleanup: clientdata.NewCleanupJob(container.ClientDataRepo, log),
		Retention: scheduler.NewRetentionJob(
			container.SnapshotRepo,
			container.OrderRepo,
			cfg.RetentionDays,
			cfg.Location(),
			log,
		),
		DailyMaintenance: reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log),
		CheckWAL:         scheduler.NewCheckWALCheckpointsJob(databases, log),
	}

	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.Retention, log)
	}

	if sched == nil {
		return instances, nil
	}

	registrations := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Schedule, instances.Rebalance},
		{cfg.MaintenanceSchedule, instances.ClientDataCleanup},
		{cfg.MaintenanceSchedule, instances.Retention},
		{cfg.MaintenanceSchedule, instances.DailyMaintenance},
		{walCheckSchedule, instances.CheckWAL},
	}
	if instances.Backup != nil {
		registrations = append(registrations, struct {
			schedule string
			job      scheduler.Job
		}{cfg.MaintenanceSchedule, instances.Backup})
	}

	for _, reg := range registrations {
		if err := sched.AddJob(reg.schedule, reg.job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", reg.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(registrations)).Msg("Jobs registered")
	return instances, nil
}
