package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/infra/logger"
)

// InfluxSink writes plan time series to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	depot    string
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// WithDepot tags every point with the depot the plans belong to.
func (s *InfluxSink) WithDepot(depot string) *InfluxSink {
	s.depot = depot
	return s
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	return withFallback(NewInfluxSink(url, token, org, bucket))
}

func withFallback(sink *InfluxSink) coremetrics.MetricsSink {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) point(measurement, planID string) *write.Point {
	p := write.NewPointWithMeasurement(measurement)
	if s.depot != "" {
		p.AddTag("depot", s.depot)
	}
	return p.AddTag("plan_id", planID)
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSolveResult writes the outcome and KPIs of a plan.
func (s *InfluxSink) RecordSolveResult(res coremetrics.SolveResult) error {
	k := res.KPIs
	p := s.point("plan_result", res.PlanID).
		AddTag("forecast_id", res.ForecastID).
		AddTag("status", res.Status.String()).
		AddField("drivers_total", k.DriversTotal).
		AddField("drivers_fte", k.DriversFTE).
		AddField("drivers_pt", k.DriversPT()).
		AddField("total_hours", round3(k.TotalHours)).
		AddField("uncovered", k.Uncovered).
		AddField("coverage_pct", round3(k.CoveragePct)).
		AddField("rounds", res.Rounds).
		AddField("lower_bound", res.LowerBound).
		AddField("duration_ms", res.Duration.Milliseconds()).
		SetTime(res.Time)
	return s.write(p)
}

// RecordRound writes one point per solver phase or round.
func (s *InfluxSink) RecordRound(ev coremetrics.RoundEvent) error {
	m := ev.Metrics
	p := s.point("solve_round", ev.PlanID).
		AddTag("phase", ev.Phase.String()).
		AddField("round", m.Round).
		AddField("pool_size", m.PoolSize).
		AddField("drivers_total", m.DriversTotal).
		AddField("drivers_fte", m.DriversFTE).
		AddField("drivers_pt", m.DriversPT).
		AddField("uncovered", m.Uncovered).
		AddField("pool_quality_pct", round3(m.PoolQualityPct)).
		AddField("lower_bound", ev.LowerBound).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordAudit writes an audit summary.
func (s *InfluxSink) RecordAudit(ev coremetrics.AuditEvent) error {
	names := make([]string, len(ev.Failing))
	for i, c := range ev.Failing {
		names[i] = c.String()
	}
	p := s.point("plan_audit", ev.PlanID).
		AddField("passed", ev.Passed).
		AddField("failed", len(ev.Failing)).
		AddField("failing_checks", strings.Join(names, ",")).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordRepair writes the churn of a repair.
func (s *InfluxSink) RecordRepair(ev coremetrics.RepairEvent) error {
	p := s.point("plan_repair", ev.PlanID).
		AddTag("parent_id", ev.ParentID).
		AddTag("event", ev.Event.String()).
		AddField("drivers_changed", ev.Churn.DriversChanged).
		AddField("blocks_moved", ev.Churn.BlocksMoved).
		AddField("tours_reassigned", ev.Churn.ToursReassigned).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordOverride writes an accepted override.
func (s *InfluxSink) RecordOverride(ev coremetrics.OverrideEvent) error {
	p := s.point("plan_override", ev.PlanID).
		AddTag("check", ev.Check.String()).
		AddTag("emergency", strconv.FormatBool(ev.Emergency)).
		AddField("actor", ev.Actor).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordLock writes a plan lock and how many plans it superseded.
func (s *InfluxSink) RecordLock(ev coremetrics.LockEvent) error {
	p := s.point("plan_lock", ev.PlanID).
		AddTag("forecast_id", ev.ForecastID).
		AddField("actor", ev.Actor).
		AddField("superseded", ev.Superseded).
		SetTime(ev.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
