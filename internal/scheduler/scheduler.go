// Package scheduler runs the recurring incremental sync and supervises background tasks.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultInterval is the nominal cadence of the recurring job
	DefaultInterval = 24 * time.Hour
	// DefaultCheckInterval is how often the loop checks whether the job is due
	DefaultCheckInterval = time.Hour
)

// Job is one scheduled unit of work
type Job func(ctx context.Context) error

// Scheduler fires Job roughly every Interval, checking every CheckInterval.
// A run is due once now >= next run; the next run is then set to now+Interval,
// so late checks delay the cadence and missed ticks are not caught up.
type Scheduler struct {
	Name          string
	Interval      time.Duration
	CheckInterval time.Duration
	Job           Job
	Logger        *zap.Logger

	now       func() time.Time
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// New builds a scheduler with the package defaults for zero durations
func New(name string, interval, checkInterval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Name:          name,
		Interval:      interval,
		CheckInterval: checkInterval,
		Job:           job,
		Logger:        logger,
		now:           time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start blocks, running the job when due, until ctx is cancelled.
// The first run is due one Interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	next := s.now().Add(s.Interval)
	s.Logger.Info("Scheduler started",
		zap.String("job", s.Name),
		zap.Duration("interval", s.Interval),
		zap.Duration("check_interval", s.CheckInterval),
		zap.Time("next_run", next))

	ticks, stop := s.newTicker(s.CheckInterval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("Scheduler stopped", zap.String("job", s.Name))
			return
		case <-ticks:
			now := s.now()
			if now.Before(next) {
				continue
			}
			s.runOnce(ctx)
			next = s.now().Add(s.Interval)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.Logger.Info("Running scheduled job", zap.String("job", s.Name))
	if err := s.Job(ctx); err != nil {
		s.Logger.Error("Scheduled job failed", zap.String("job", s.Name), zap.Error(err))
	}
}
