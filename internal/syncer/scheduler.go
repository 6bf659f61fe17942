package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs a sync of every inbox on a fixed interval. A tick that
// arrives while a sync is still running is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			report, err := s.runner.Run(ctx, Request{Trigger: TriggerSchedule})
			if err != nil {
				s.logger.Error("scheduled sync failed", "error", err)
				continue
			}
			if report.Failed > 0 {
				s.logger.Warn("scheduled sync had failures", "failed", report.Failed, "attempted", report.Attempted)
			}
		}
	}
}
