// Package scheduler wraps cron for periodic collection runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a scheduled task.
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
	log  zerolog.Logger
}

// New creates a scheduler in the local timezone.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		jobs: make(map[string]cron.EntryID),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers a job under a cron schedule ("0 */6 * * *" runs
// every six hours). Each firing gets a bounded context; a job overrun
// cannot pile up forever.
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		start := time.Now()
		s.log.Info().Str("job", name).Msg("job starting")
		if err := job(ctx); err != nil {
			s.log.Error().Str("job", name).Err(err).Msg("job failed")
			return
		}
		s.log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("job scheduled")
	return nil
}

// AddCollectionJob schedules the periodic incremental collection.
func (s *Scheduler) AddCollectionJob(intervalHours int, job Job) error {
	if intervalHours < 1 {
		intervalHours = 1
	}
	schedule := fmt.Sprintf("0 */%d * * *", intervalHours)
	return s.AddJob("collect", schedule, job)
}

// RemoveJob unregisters a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.Info().Str("job", name).Msg("job removed")
	}
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.log.Debug().Msg("scheduler starting")
	s.cron.Start()
}

// Stop halts scheduling and returns a context that closes when
// running jobs have drained.
func (s *Scheduler) Stop() context.Context {
	s.log.Debug().Msg("scheduler stopping")
	return s.cron.Stop()
}

// JobInfo describes a scheduled job's timing.
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// ListJobs returns timing info for every scheduled job.
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
				break
			}
		}
	}
	return infos
}
