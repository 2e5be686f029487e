// Package telemetry holds the prometheus collectors shared by the
// simulation and the feed reconciler. Exposed on /metrics by the server.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the simulation counters. A single instance is
// created at startup and injected into the components that record.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	OracleCalls      *prometheus.CounterVec
	PostsCreated     *prometheus.CounterVec
	VotesApplied     *prometheus.CounterVec
	ReconcilerEvents *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
}

// Turn outcomes.
const (
	TurnCompleted = "completed"
	TurnNoop      = "noop"
	TurnAborted   = "aborted"
)

// Oracle call statuses.
const (
	OracleOK         = "ok"
	OracleNoDecision = "no_decision"
	OracleError      = "error"
)

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_turns_total",
			Help: "Agent turns by outcome.",
		}, []string{"outcome"}),
		OracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_oracle_calls_total",
			Help: "Decision oracle calls by decision point and status.",
		}, []string{"decision", "status"}),
		PostsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_posts_created_total",
			Help: "Posts persisted by the turn engine, by type.",
		}, []string{"type"}),
		VotesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_votes_applied_total",
			Help: "Votes applied to post scores, by direction.",
		}, []string{"direction"}),
		ReconcilerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_reconciler_events_total",
			Help: "Change events handled by the feed reconciler.",
		}, []string{"op", "outcome"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deadnet_simulation_runs_total",
			Help: "Simulation driver invocations by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.TurnsTotal, m.OracleCalls, m.PostsCreated, m.VotesApplied, m.ReconcilerEvents, m.RunsTotal)
	return m
}
