package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

// Reaper demotes jobs stuck in posting.
type Reaper interface {
	ReapStale(ctx context.Context) (int64, error)
}

// AlertChecker evaluates SLO thresholds and notifies on breach.
type AlertChecker interface {
	Check(ctx context.Context) ([]string, error)
}

// Purger deletes rows older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention is a purger with the age past which its rows are dropped.
type Retention struct {
	Name   string
	Purger Purger
	MaxAge time.Duration
}

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	logger    *zap.Logger
	reaper    Reaper
	alerts    AlertChecker
	retention []Retention
	now       func() time.Time
}

// New creates a new cron scheduler. A nil reaper or alerter disables its job.
func New(reaper Reaper, alerts AlertChecker, retention []Retention, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		logger:    logger,
		reaper:    reaper,
		alerts:    alerts,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	// Stale posting reaper - every minute
	if s.reaper != nil {
		if _, err := s.cron.AddFunc("0 * * * * *", func() {
			s.logger.Debug("Running: stale posting reaper")
			s.reapStale()
		}); err != nil {
			return err
		}
	}

	// SLO alerts - every 5 minutes
	if s.alerts != nil {
		if _, err := s.cron.AddFunc("0 */5 * * * *", func() {
			s.logger.Debug("Running: SLO alert check")
			s.checkAlerts()
		}); err != nil {
			return err
		}
	}

	// Retention purge - daily at 03:30
	if len(s.retention) > 0 {
		if _, err := s.cron.AddFunc("0 30 3 * * *", func() {
			s.logger.Debug("Running: retention purge")
			s.purgeExpired()
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) reapStale() {
	defer s.recoverFromPanic("reapStale")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.reaper.ReapStale(ctx); err != nil {
		s.logger.Error("Stale posting reaper failed", zap.Error(err))
	}
}

func (s *Scheduler) checkAlerts() {
	defer s.recoverFromPanic("checkAlerts")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.alerts.Check(ctx); err != nil {
		s.logger.Error("SLO alert check failed", zap.Error(err))
	}
}

func (s *Scheduler) purgeExpired() {
	defer s.recoverFromPanic("purgeExpired")

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	now := s.now()
	for _, r := range s.retention {
		if r.MaxAge <= 0 {
			continue
		}
		n, err := r.Purger.PurgeBefore(ctx, now.Add(-r.MaxAge))
		if err != nil {
			s.logger.Error("Retention purge failed", zap.String("table", r.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			s.logger.Info("Purged expired rows", zap.String("table", r.Name), zap.Int64("count", n))
		}
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
