package sim

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/deadnet/config"
	"github.com/mohammad-safakhou/deadnet/internal/oracle"
	"github.com/mohammad-safakhou/deadnet/internal/store"
	"github.com/mohammad-safakhou/deadnet/internal/telemetry"
)

// Driver runs concurrent simulation instances. Each instance owns its
// own Engine and executes its cycles sequentially; instances share no
// in-process mutable state — all coordination happens through the store.
type Driver struct {
	repo        Repository
	runs        RunRecorder // nil disables run bookkeeping
	oracle      oracle.Provider
	cfg         config.SimulationConfig
	temperature float64
	logger      *log.Logger
	metrics     *telemetry.Metrics
	seed        func() int64
}

// NewDriver wires a simulation driver.
func NewDriver(repo Repository, runs RunRecorder, provider oracle.Provider, cfg config.SimulationConfig, temperature float64, logger *log.Logger, metrics *telemetry.Metrics) *Driver {
	return &Driver{
		repo:        repo,
		runs:        runs,
		oracle:      provider,
		cfg:         cfg,
		temperature: temperature,
		logger:      logger,
		metrics:     metrics,
		seed:        func() int64 { return time.Now().UnixNano() },
	}
}

// SetSeed overrides the per-instance RNG seed source. Tests use this for
// determinism.
func (d *Driver) SetSeed(seed func() int64) { d.seed = seed }

// Run spawns parallelism concurrent instances, each executing cycles
// sequential agent turns, and joins them all: a single barrier, every
// instance observed. Turn-level failures are contained inside the
// engine; the only errors that propagate are context cancellations.
func (d *Driver) Run(ctx context.Context, cycles, parallelism int) error {
	if cycles <= 0 {
		cycles = d.cfg.Cycles
	}
	if parallelism <= 0 {
		parallelism = d.cfg.Parallelism
	}
	d.logger.Printf("starting %d instance(s) of %d cycle(s)", parallelism, cycles)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < parallelism; i++ {
		engine := NewEngine(d.repo, d.oracle, d.cfg, d.temperature, d.logger, d.metrics, rand.New(rand.NewSource(d.seed())))
		g.Go(func() error {
			for c := 0; c < cycles; c++ {
				if err := engine.RunTurn(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ResetAndRun deletes all posts, then runs. Callers must not trigger a
// reset while other runs are active.
func (d *Driver) ResetAndRun(ctx context.Context, cycles, parallelism int) error {
	if err := d.repo.DeleteAllPosts(ctx); err != nil {
		return err
	}
	d.logger.Printf("board reset: all posts deleted")
	return d.Run(ctx, cycles, parallelism)
}

// RunRecorded wraps Run (or ResetAndRun) with sim_runs bookkeeping and
// returns the run id immediately usable by the operator surface.
func (d *Driver) RunRecorded(ctx context.Context, cycles, parallelism int, reset bool) (string, error) {
	runID := uuid.NewString()
	if d.runs != nil {
		if err := d.runs.CreateSimRun(ctx, runID, cycles, parallelism); err != nil {
			return "", err
		}
	}
	var err error
	if reset {
		err = d.ResetAndRun(ctx, cycles, parallelism)
	} else {
		err = d.Run(ctx, cycles, parallelism)
	}
	status := store.RunStatusSucceeded
	var msg *string
	if err != nil {
		status = store.RunStatusFailed
		s := err.Error()
		msg = &s
	}
	if d.runs != nil {
		if ferr := d.runs.FinishSimRun(ctx, runID, status, msg); ferr != nil {
			d.logger.Printf("finishing run %s: %v", runID, ferr)
		}
	}
	d.metrics.RunsTotal.WithLabelValues(status).Inc()
	return runID, err
}
