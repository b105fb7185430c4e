// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is the schedule and last outcome of a registered job
type JobStatus struct {
	Name         string     `json:"name"`
	Schedule     string     `json:"schedule"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDuration float64    `json:"last_duration_seconds,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

type registration struct {
	schedule     string
	entryID      cron.EntryID
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Scheduler manages background jobs. A job still running when its next tick
// arrives skips that tick. Job names are unique.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*registration
}

// New creates a scheduler evaluating schedules in loc (UTC when nil)
func New(loc *time.Location, log zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:  log.With().Str("component", "scheduler").Logger(),
		jobs: make(map[string]*registration),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers job under a six-field cron expression or a descriptor
// such as "@every 1h".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { _ = s.execute(job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	s.jobs[name] = &registration{schedule: schedule, entryID: id}

	s.log.Info().Str("schedule", schedule).Str("job", name).Msg("Job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return s.execute(job)
}

func (s *Scheduler) execute(job Job) error {
	name := job.Name()
	start := time.Now()
	s.log.Debug().Str("job", name).Msg("Running job")

	err := job.Run()
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		s.log.Error().Err(err).Str("job", name).Dur("duration", elapsed).Msg("Job failed")
	} else {
		s.log.Debug().Str("job", name).Dur("duration", elapsed).Msg("Job completed")
	}
	metrics.JobRuns.WithLabelValues(name, status).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	s.mu.Lock()
	if reg, ok := s.jobs[name]; ok {
		reg.lastRun = start
		reg.lastDuration = elapsed
		reg.lastErr = err
	}
	s.mu.Unlock()

	return err
}

// Jobs reports every registered job sorted by name
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for name, reg := range s.jobs {
		status := JobStatus{Name: name, Schedule: reg.schedule}
		if next := s.cron.Entry(reg.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
		if !reg.lastRun.IsZero() {
			last := reg.lastRun
			status.LastRun = &last
			status.LastDuration = reg.lastDuration.Seconds()
		}
		if reg.lastErr != nil {
			status.LastError = reg.lastErr.Error()
		}
		out = append(out, status)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
