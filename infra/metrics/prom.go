package metrics

import (
	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records plan outcomes in Prometheus metrics.
type PromSink struct {
	solves    *prometheus.CounterVec
	drivers   *prometheus.GaugeVec
	uncovered prometheus.Gauge
	rounds    prometheus.Histogram
	audits    *prometheus.CounterVec
	overrides *prometheus.CounterVec
	churn     *prometheus.HistogramVec
	locks     prometheus.Counter
}

// NewPromSink registers roster metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. A configured
// depot becomes a constant label on every series.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.Depot != "" {
		reg = prometheus.WrapRegistererWith(prometheus.Labels{"depot": cfg.Depot}, reg)
	}
	s := &PromSink{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_plans_finished_total",
			Help: "Plans that reached a terminal solve state",
		}, []string{"status"}),
		drivers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_last_plan_drivers",
			Help: "Drivers of the last finished plan by class",
		}, []string{"class"}),
		uncovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roster_last_plan_uncovered_tours",
			Help: "Uncovered tour instances of the last finished plan",
		}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roster_plan_rounds",
			Help:    "Solver rounds per plan",
			Buckets: prometheus.LinearBuckets(1, 3, 10),
		}),
		audits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_audit_checks_total",
			Help: "Audit check results",
		}, []string{"check", "status"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_overrides_total",
			Help: "Accepted audit overrides",
		}, []string{"check", "emergency"}),
		churn: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_repair_drivers_changed",
			Help:    "Drivers changed by a repair",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		}, []string{"event"}),
		locks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roster_plans_locked_total",
			Help: "Plans locked for publication",
		}),
	}
	var err error
	if s.solves, err = register(reg, s.solves); err != nil {
		return nil, err
	}
	if s.drivers, err = register(reg, s.drivers); err != nil {
		return nil, err
	}
	if s.uncovered, err = register(reg, s.uncovered); err != nil {
		return nil, err
	}
	if s.rounds, err = register(reg, s.rounds); err != nil {
		return nil, err
	}
	if s.audits, err = register(reg, s.audits); err != nil {
		return nil, err
	}
	if s.overrides, err = register(reg, s.overrides); err != nil {
		return nil, err
	}
	if s.churn, err = register(reg, s.churn); err != nil {
		return nil, err
	}
	if s.locks, err = register(reg, s.locks); err != nil {
		return nil, err
	}
	return s, nil
}

// register adds c to reg, reusing a collector registered earlier under the
// same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSolveResult counts the plan and exposes its driver mix.
func (s *PromSink) RecordSolveResult(res coremetrics.SolveResult) error {
	s.solves.WithLabelValues(res.Status.String()).Inc()
	if !res.Status.HasAssignments() {
		return nil
	}
	s.drivers.WithLabelValues("fte").Set(float64(res.KPIs.DriversFTE))
	s.drivers.WithLabelValues("pt_core").Set(float64(res.KPIs.DriversPTCore))
	s.drivers.WithLabelValues("pt_flex").Set(float64(res.KPIs.DriversPTFlex))
	s.uncovered.Set(float64(res.KPIs.Uncovered))
	s.rounds.Observe(float64(res.Rounds))
	return nil
}

// RecordAudit counts passing and failing checks.
func (s *PromSink) RecordAudit(ev coremetrics.AuditEvent) error {
	for _, c := range ev.Failing {
		s.audits.WithLabelValues(c.String(), "FAIL").Inc()
	}
	s.audits.WithLabelValues("all", "PASS").Add(float64(ev.Passed))
	return nil
}

// RecordOverride counts accepted overrides.
func (s *PromSink) RecordOverride(ev coremetrics.OverrideEvent) error {
	emergency := "false"
	if ev.Emergency {
		emergency = "true"
	}
	s.overrides.WithLabelValues(ev.Check.String(), emergency).Inc()
	return nil
}

// RecordRepair observes the churn of a repair.
func (s *PromSink) RecordRepair(ev coremetrics.RepairEvent) error {
	s.churn.WithLabelValues(ev.Event.String()).Observe(float64(ev.Churn.DriversChanged))
	return nil
}

// RecordLock counts locks.
func (s *PromSink) RecordLock(coremetrics.LockEvent) error {
	s.locks.Inc()
	return nil
}
