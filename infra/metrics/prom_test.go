package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/events"
	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/internal/eventbus"
)

func TestPromSink_RecordSolveResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	sink := sinkIf.(*PromSink)

	require.NoError(t, sink.RecordSolveResult(coremetrics.SolveResult{
		PlanID: "p1", Status: model.PlanSolved, Rounds: 3,
		KPIs: model.KPIs{DriversFTE: 4, DriversPTCore: 1, Uncovered: 2},
	}))
	require.NoError(t, sink.RecordSolveResult(coremetrics.SolveResult{PlanID: "p2", Status: model.PlanFailed}))

	expected := `
# HELP roster_plans_finished_total Plans that reached a terminal solve state
# TYPE roster_plans_finished_total counter
roster_plans_finished_total{status="FAILED"} 1
roster_plans_finished_total{status="SOLVED"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(sink.solves, strings.NewReader(expected)))
	assert.Equal(t, 4.0, testutil.ToFloat64(sink.drivers.WithLabelValues("fte")))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.uncovered))
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)
	b, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)

	require.NoError(t, a.(*PromSink).RecordLock(coremetrics.LockEvent{PlanID: "p"}))
	require.NoError(t, b.(*PromSink).RecordLock(coremetrics.LockEvent{PlanID: "q"}))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.(*PromSink).locks))
}

func TestPromSink_AuditAndOverride(t *testing.T) {
	sinkIf, err := NewPromSinkWithRegistry(coremetrics.Config{}, prometheus.NewRegistry())
	require.NoError(t, err)
	sink := sinkIf.(*PromSink)
	require.NoError(t, sink.RecordAudit(coremetrics.AuditEvent{PlanID: "p", Passed: 6, Failing: []model.CheckName{model.CheckRest}}))
	require.NoError(t, sink.RecordOverride(coremetrics.OverrideEvent{PlanID: "p", Check: model.CheckRest, Emergency: true}))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.audits.WithLabelValues("REST", "FAIL")))
	assert.Equal(t, 6.0, testutil.ToFloat64(sink.audits.WithLabelValues("all", "PASS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.overrides.WithLabelValues("REST", "true")))
}

type roundSink struct {
	coremetrics.NopSink
	ch chan coremetrics.RoundEvent
}

func (r roundSink) RecordRound(ev coremetrics.RoundEvent) error {
	r.ch <- ev
	return nil
}

func TestStartEventCollector(t *testing.T) {
	log := eventbus.NewLog[events.Event]()
	defer log.Close()
	sink := roundSink{ch: make(chan coremetrics.RoundEvent, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, log, sink)

	log.Append("p1", events.Status("p1", model.PlanSolving, "started"))
	log.Append("p1", events.Progress("p1", model.PhaseCapacity, model.RoundMetrics{DriversTotal: 3}, 3))

	select {
	case ev := <-sink.ch:
		assert.Equal(t, "p1", ev.PlanID)
		assert.Equal(t, model.PhaseCapacity, ev.Phase)
		assert.Equal(t, 3, ev.LowerBound)
	case <-time.After(time.Second):
		t.Fatal("round not recorded")
	}
}

func TestPromSink_DepotLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	sinkIf, err := NewPromSinkWithRegistry(coremetrics.Config{Depot: "north"}, reg)
	require.NoError(t, err)
	require.NoError(t, sinkIf.(*PromSink).RecordLock(coremetrics.LockEvent{PlanID: "p"}))

	expected := `
# HELP roster_plans_locked_total Plans locked for publication
# TYPE roster_plans_locked_total counter
roster_plans_locked_total{depot="north"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "roster_plans_locked_total"))
}
