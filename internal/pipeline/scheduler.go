package pipeline

import (
	"context"
	"time"

	"github.com/tkilaker/newsroom/internal/database"
)

// Scheduler triggers scheduled runs on a fixed interval
type Scheduler struct {
	orch       *Orchestrator
	interval   time.Duration
	count      int
	staleAfter time.Duration
}

// NewScheduler creates a Scheduler. A zero staleAfter disables the stale sweep.
func NewScheduler(orch *Orchestrator, interval time.Duration, count int, staleAfter time.Duration) *Scheduler {
	return &Scheduler{orch: orch, interval: interval, count: count, staleAfter: staleAfter}
}

// Start blocks, running one tick per interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.orch.log.Info("scheduler started", "interval", s.interval.String(), "count", s.count)
	for {
		select {
		case <-ctx.Done():
			s.orch.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.orch.Progress().IsActive() {
		s.orch.log.Info("previous run still active, skipping tick")
		return
	}

	if s.staleAfter > 0 {
		if _, err := s.orch.RecoverStale(ctx, s.staleAfter); err != nil {
			s.orch.log.Error("stale recovery failed", "error", err)
		}
	}

	if _, err := s.orch.Run(ctx, RunRequest{Count: s.count, Type: database.RunScheduled}); err != nil {
		s.orch.log.Error("scheduled run failed", "error", err)
	}
}
