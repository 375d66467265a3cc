// Clubpush - Sports Club Push Notification Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clubpush

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Task is one run of a periodic job.
type Task func(ctx context.Context) error

// PeriodicServiceConfig controls how a PeriodicService schedules its task.
type PeriodicServiceConfig struct {
	// Interval between runs. Defaults to one minute.
	Interval time.Duration

	// RunTimeout bounds a single run. Defaults to Interval.
	RunTimeout time.Duration

	// RunOnStart runs the task once before the first tick.
	RunOnStart bool
}

// PeriodicService runs a task on a fixed interval under suture. Task errors
// are logged and the schedule continues; only cancellation stops the service.
//
// Used for dedup store housekeeping and refreshing the stored subscription
// gauge.
type PeriodicService struct {
	name   string
	task   Task
	config PeriodicServiceConfig
	logger zerolog.Logger
}

// NewPeriodicService creates a periodic job named name.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewPeriodicService(name string, task Task, cfg PeriodicServiceConfig, logger zerolog.Logger) *PeriodicService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = cfg.Interval
	}
	return &PeriodicService{
		name:   name,
		task:   task,
		config: cfg,
		logger: logger.With().Str("service", name).Logger(),
	}
}

// Serve implements suture.Service.
func (s *PeriodicService) Serve(ctx context.Context) error {
	s.logger.Debug().Dur("interval", s.config.Interval).Msg("periodic service starting")

	if s.config.RunOnStart {
		s.run(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *PeriodicService) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	start := time.Now()
	if err := s.task(runCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("periodic task failed")
		return
	}
	s.logger.Trace().Dur("duration", time.Since(start)).Msg("periodic task complete")
}

// String implements fmt.Stringer for supervisor logs.
func (s *PeriodicService) String() string {
	return s.name
}
