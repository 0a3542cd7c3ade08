package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
)

type captured struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captured) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, strings.TrimSpace(string(data)))
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordRound(t *testing.T) {
	var c captured
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket")
	now := time.Now()
	ev := coremetrics.RoundEvent{
		PlanID:     "p1",
		Phase:      model.PhaseSetPartition,
		Metrics:    model.RoundMetrics{Round: 2, PoolSize: 40, DriversTotal: 5, DriversFTE: 3, DriversPT: 2, PoolQualityPct: 87.5},
		LowerBound: 4,
		Time:       now,
	}
	require.NoError(t, sink.RecordRound(ev))

	p := write.NewPointWithMeasurement("solve_round").
		AddTag("plan_id", "p1").
		AddTag("phase", "set_partition").
		AddField("round", 2).
		AddField("pool_size", 40).
		AddField("drivers_total", 5).
		AddField("drivers_fte", 3).
		AddField("drivers_pt", 2).
		AddField("uncovered", 0).
		AddField("pool_quality_pct", 87.5).
		AddField("lower_bound", 4).
		SetTime(now)
	require.Len(t, c.bodies, 1)
	assert.Equal(t, line(p), c.bodies[0])
}

func TestInfluxSink_RecordRepair(t *testing.T) {
	var c captured
	sink := NewInfluxSink(c.server(t).URL+"/api/v2/write", "token", "org", "bucket")
	now := time.Now()
	require.NoError(t, sink.RecordRepair(coremetrics.RepairEvent{
		PlanID:   "p2",
		ParentID: "p1",
		Event:    model.EventNoShow,
		Churn:    model.ChurnSummary{DriversChanged: 2, BlocksMoved: 1, ToursReassigned: 1},
		Time:     now,
	}))
	p := write.NewPointWithMeasurement("plan_repair").
		AddTag("plan_id", "p2").
		AddTag("parent_id", "p1").
		AddTag("event", "NO_SHOW").
		AddField("drivers_changed", 2).
		AddField("blocks_moved", 1).
		AddField("tours_reassigned", 1).
		SetTime(now)
	require.Len(t, c.bodies, 1)
	assert.Equal(t, line(p), c.bodies[0])
}

func TestInfluxSink_RecordSolveResult(t *testing.T) {
	var c captured
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket")
	require.NoError(t, sink.RecordSolveResult(coremetrics.SolveResult{
		PlanID: "p1", ForecastID: "f1", Status: model.PlanSolved,
		KPIs:     model.KPIs{DriversTotal: 3, DriversFTE: 2, DriversPTCore: 1, TotalHours: 61.25, CoveragePct: 100},
		Rounds:   4,
		Duration: 1500 * time.Millisecond,
		Time:     time.Now(),
	}))
	require.Len(t, c.bodies, 1)
	assert.True(t, strings.HasPrefix(c.bodies[0], "plan_result,"))
	assert.Contains(t, c.bodies[0], "plan_id=p1")
	assert.Contains(t, c.bodies[0], "status=SOLVED")
	assert.Contains(t, c.bodies[0], "drivers_pt=1i")
	assert.Contains(t, c.bodies[0], "duration_ms=1500i")
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	_, isInflux := sink.(*InfluxSink)
	assert.False(t, isInflux, "expected NopSink on failing health check")
	assert.True(t, called, "health endpoint not called")
}

func TestInfluxSinkTagsDepot(t *testing.T) {
	var c captured
	sink := NewInfluxSink(c.server(t).URL, "token", "org", "bucket").WithDepot("north")
	require.NoError(t, sink.RecordLock(coremetrics.LockEvent{PlanID: "p1", ForecastID: "f1", Actor: "ops", Superseded: 2, Time: time.Now()}))
	require.NoError(t, sink.RecordAudit(coremetrics.AuditEvent{PlanID: "p1", Passed: 7, Time: time.Now()}))
	require.Len(t, c.bodies, 2)
	for _, body := range c.bodies {
		assert.Contains(t, body, ",depot=north,")
		assert.Contains(t, body, "plan_id=p1")
	}
	assert.True(t, strings.HasPrefix(c.bodies[0], "plan_lock,"), c.bodies[0])
	assert.Contains(t, c.bodies[0], "forecast_id=f1")
	assert.Contains(t, c.bodies[0], "superseded=2i")
}
