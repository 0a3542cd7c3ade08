// Package monitoring implements core/monitoring.Monitor on top of the
// structured logger and a Prometheus counter.
package monitoring

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremon "github.com/kilianp07/roster/core/monitoring"
	"github.com/kilianp07/roster/infra/logger"
)

// LogMonitor writes captured failures as error logs and counts them per
// component.
type LogMonitor struct {
	log      logger.Logger
	failures *prometheus.CounterVec
}

var _ coremon.Monitor = (*LogMonitor)(nil)

// NewLogMonitor creates a LogMonitor. A nil registerer skips the counter.
func NewLogMonitor(reg prometheus.Registerer) (*LogMonitor, error) {
	m := &LogMonitor{log: logger.New("monitor")}
	if reg == nil {
		return m, nil
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_captured_failures_total",
		Help: "Failures of background work reported to the monitor",
	}, []string{"component", "kind"})
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		c = existing
	}
	m.failures = c
	return m, nil
}

func (m *LogMonitor) count(tags map[string]string, kind string) {
	if m.failures == nil {
		return
	}
	comp := tags["component"]
	if comp == "" {
		comp = "unknown"
	}
	m.failures.WithLabelValues(comp, kind).Inc()
}

func fields(tags map[string]string) map[string]any {
	f := make(map[string]any, len(tags))
	for k, v := range tags {
		f[k] = v
	}
	return f
}

func (m *LogMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	m.count(tags, "error")
	f := fields(tags)
	f["error"] = err.Error()
	m.log.Debugw("captured failure", f)
	m.log.Errorf("%s: %v", tags["component"], err)
}

func (m *LogMonitor) CapturePanic(v any, stack []byte, tags map[string]string) {
	m.count(tags, "panic")
	f := fields(tags)
	f["stack"] = string(stack)
	m.log.Debugw("captured panic", f)
	m.log.Errorf("%s: %v", tags["component"], coremon.PanicError(v))
}

// Flush is a no-op; log lines are written synchronously.
func (m *LogMonitor) Flush(time.Duration) {}
