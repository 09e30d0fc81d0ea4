/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron               *cron.Cron
	jobs               *Jobs
	logger             *slog.Logger
	chargeSchedule     string
	cardExpirySchedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, chargeSchedule, cardExpirySchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:               c,
		jobs:               jobs,
		logger:             logger,
		chargeSchedule:     chargeSchedule,
		cardExpirySchedule: cardExpirySchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.chargeSchedule, s.jobs.ChargeDueContracts); err != nil {
		s.logger.Error("failed to schedule due contract charge job", "error", err)
	} else {
		s.logger.Info("scheduled due contract charge job", "schedule", s.chargeSchedule)
	}

	if _, err := s.cron.AddFunc(s.cardExpirySchedule, s.jobs.ExpireStaleCardContracts); err != nil {
		s.logger.Error("failed to schedule stale card expiry job", "error", err)
	} else {
		s.logger.Info("scheduled stale card expiry job", "schedule", s.cardExpirySchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
