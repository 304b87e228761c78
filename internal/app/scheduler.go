/**
 * @description
 * Cron scheduler wiring for the background jobs. Schedules come from
 * configuration so operators can tune cadence per environment.
 */

package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/hredostate/Togedaly-New-sub001/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.DueSweepSchedule, s.jobs.RunDueDateSweep); err != nil {
		s.logger.Error("failed to schedule due-date sweep", "error", err)
	} else {
		s.logger.Info("scheduled due-date sweep", "schedule", s.config.DueSweepSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.PayoutRunSchedule, s.jobs.RunPayoutMaterialization); err != nil {
		s.logger.Error("failed to schedule payout materialization", "error", err)
	} else {
		s.logger.Info("scheduled payout materialization", "schedule", s.config.PayoutRunSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.DeferredRevisitSchedule, s.jobs.RunDeferredRevisit); err != nil {
		s.logger.Error("failed to schedule deferred revisit", "error", err)
	} else {
		s.logger.Info("scheduled deferred revisit", "schedule", s.config.DeferredRevisitSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
