package repair

import "github.com/prometheus/client_golang/prometheus"

var repairsTotal *prometheus.CounterVec

func newCollectors() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_repairs_total",
			Help: "Repairs by disruption type and outcome",
		},
		[]string{"event", "outcome"},
	)
}

func init() {
	repairsTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers repair metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(repairsTotal)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	repairsTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
