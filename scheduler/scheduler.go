package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Scheduler owns the single periodic timer driving the update cycle. It
// is injected into the shutdown path rather than captured as ambient
// state, so stopping it is explicit.
type Scheduler struct {
	cron   *gocron.Scheduler
	logger *zap.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		logger: logger,
	}
}

// Start runs job every interval. The job runs in singleton mode: a tick
// that fires while the previous run is still going is skipped, never run
// concurrently.
func (s *Scheduler) Start(interval time.Duration, job func()) error {
	j, err := s.cron.Every(interval).Do(job)
	if err != nil {
		return fmt.Errorf("schedule update cycle: %w", err)
	}
	j.SingletonMode()

	s.cron.StartAsync()
	s.logger.Info("scheduler started", zap.Duration("interval", interval))
	return nil
}

// Stop stops the timer. No new runs start after Stop returns.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}
