package server

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/deadnet/internal/store"
)

// Runner launches simulation runs. *sim.Driver satisfies it.
type Runner interface {
	RunRecorded(ctx context.Context, cycles, parallelism int, reset bool) (string, error)
}

// RunsStore is the run-history read surface.
type RunsStore interface {
	ListSimRuns(ctx context.Context, limit int) ([]store.SimRun, error)
}

// SimulationHandler is the operator surface for triggering runs. At most
// one run is in flight per process; overlapping triggers are rejected
// rather than queued.
type SimulationHandler struct {
	Driver Runner
	Store  RunsStore
	Logger *log.Logger

	running atomic.Bool
}

type runRequest struct {
	Cycles      int  `json:"cycles"`
	Parallelism int  `json:"parallelism"`
	Reset       bool `json:"reset"`
}

func (h *SimulationHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("/run", h.run)
	g.GET("/runs", h.listRuns)
}

func (h *SimulationHandler) run(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !h.running.CompareAndSwap(false, true) {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	// the run outlives the request; detach from the request context
	go func() {
		defer h.running.Store(false)
		runID, err := h.Driver.RunRecorded(context.Background(), req.Cycles, req.Parallelism, req.Reset)
		if err != nil {
			h.Logger.Printf("run %s failed: %v", runID, err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *SimulationHandler) listRuns(c echo.Context) error {
	limit := intQuery(c, "limit", 50)
	runs, err := h.Store.ListSimRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []store.SimRun{}
	}
	return c.JSON(http.StatusOK, runs)
}
