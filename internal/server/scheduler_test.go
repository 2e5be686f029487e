package server

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

func testScheduler(cron string, runs []store.SimRun) *Scheduler {
	return &Scheduler{
		Driver: &stubRunner{},
		Store:  &stubRunsStore{runs: runs},
		Cron:   cron,
		Logger: log.New(log.Writer(), "[TEST] ", log.LstdFlags),
		Stop:   make(chan struct{}),
	}
}

func TestSchedulerDueWithNoHistory(t *testing.T) {
	s := testScheduler("0 * * * *", nil)
	if !s.due(context.Background()) {
		t.Fatalf("no recorded runs must mean due now")
	}
}

func TestSchedulerNotDueRightAfterRun(t *testing.T) {
	s := testScheduler("0 * * * *", []store.SimRun{{ID: "r1", StartedAt: time.Now()}})
	if s.due(context.Background()) {
		t.Fatalf("a just-started run must not be due again")
	}
}

func TestSchedulerDueAfterSlotPasses(t *testing.T) {
	s := testScheduler("0 * * * *", []store.SimRun{{ID: "r1", StartedAt: time.Now().Add(-2 * time.Hour)}})
	if !s.due(context.Background()) {
		t.Fatalf("a run two hours old must be due on an hourly cron")
	}
}

func TestSchedulerStartRejectsBadCron(t *testing.T) {
	s := testScheduler("not a cron", nil)
	// must not panic and must not fire anything
	s.Start()
	close(s.Stop)
}
