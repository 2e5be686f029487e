package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

const schedulerLockKey = "deadnet:sched:lock"

// SchedulerStore reads the last scheduled run time.
type SchedulerStore interface {
	ListSimRuns(ctx context.Context, limit int) ([]store.SimRun, error)
}

// Scheduler triggers recurring simulation runs on a cron expression.
// The Redis SetNX lock keeps multiple replicas from firing the same
// slot twice.
type Scheduler struct {
	Driver Runner
	Store  SchedulerStore
	Rdb    *redis.Client
	Cron   string
	Logger *log.Logger
	Stop   chan struct{}
}

// Start launches the scheduler loop. A bad cron expression disables
// scheduling entirely rather than guessing an interval.
func (s *Scheduler) Start() {
	if s.Cron == "" {
		return
	}
	if _, err := cronexpr.Parse(s.Cron); err != nil {
		s.Logger.Printf("invalid cron expression %q, scheduler disabled: %v", s.Cron, err)
		return
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if !s.due(ctx) {
		return
	}
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, schedulerLockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("scheduler lock: %v", err)
			return
		}
		if !ok {
			return
		}
	}
	go func() {
		runID, err := s.Driver.RunRecorded(ctx, 0, 0, false)
		if err != nil {
			s.Logger.Printf("scheduled run %s failed: %v", runID, err)
			return
		}
		s.Logger.Printf("scheduled run %s finished", runID)
	}()
}

// due reports whether the cron slot after the last recorded run has
// passed. No runs on record means due now.
func (s *Scheduler) due(ctx context.Context) bool {
	expr, err := cronexpr.Parse(s.Cron)
	if err != nil {
		return false
	}
	runs, err := s.Store.ListSimRuns(ctx, 1)
	if err != nil {
		s.Logger.Printf("scheduler: listing runs: %v", err)
		return false
	}
	if len(runs) == 0 {
		return true
	}
	next := expr.Next(runs[0].StartedAt)
	return !next.After(time.Now())
}
