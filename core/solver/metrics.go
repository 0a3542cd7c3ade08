package solver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	solveDuration *prometheus.HistogramVec
	roundsTotal   prometheus.Counter
	poolSize      prometheus.Gauge
	lpFallbacks   prometheus.Counter
	refineGains   prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, prometheus.Counter, prometheus.Gauge, prometheus.Counter, prometheus.Counter) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roster_solve_duration_seconds",
			Help:    "Wall-clock duration of roster solves",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	rounds := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_solver_rounds_total",
			Help: "Number of column generation rounds run",
		},
	)
	pool := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roster_column_pool_size",
			Help: "Column pool size of the last finished round",
		},
	)
	lp := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_lp_fallback_total",
			Help: "Rounds priced with heuristic duals instead of the LP relaxation",
		},
	)
	gain := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roster_refine_improvements_total",
			Help: "Solves whose incumbent was improved by refinement",
		},
	)
	return dur, rounds, pool, lp, gain
}

func init() {
	solveDuration, roundsTotal, poolSize, lpFallbacks, refineGains = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers solver metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(solveDuration, roundsTotal, poolSize, lpFallbacks, refineGains)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	solveDuration, roundsTotal, poolSize, lpFallbacks, refineGains = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
