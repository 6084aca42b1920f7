package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the route sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	job    *RouteJob
	logger zerolog.Logger
}

// NewScheduler registers the job's sweep under its SweepSchedule, e.g. "@every 15m"
// or "*/10 * * * *".
func NewScheduler(ctx context.Context, job *RouteJob, logger zerolog.Logger) (*Scheduler, error) {
	schedule := job.config.SweepSchedule
	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.sweep(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.job.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled route sweep failed")
	}
}
