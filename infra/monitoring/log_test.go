package monitoring

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/roster/core/monitoring"
)

func TestLogMonitorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewLogMonitor(reg)
	require.NoError(t, err)

	m.CaptureException(errors.New("store unavailable"), map[string]string{"component": "solve", "plan_id": "p1"})
	m.CaptureException(nil, nil)
	m.CapturePanic("boom", []byte("stack"), map[string]string{"component": "mqtt"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("solve", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("mqtt", "panic")))

	again, err := NewLogMonitor(reg)
	require.NoError(t, err)
	assert.Same(t, m.failures, again.failures)
}

func TestRecoverReportsPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewLogMonitor(reg)
	require.NoError(t, err)
	coremon.Init(m)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer coremon.Recover("worker")
		panic("worker crashed")
	}()
	<-done
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("worker", "panic")))
}
