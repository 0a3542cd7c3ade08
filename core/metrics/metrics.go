package metrics

import (
	"time"

	"github.com/kilianp07/roster/core/model"
)

// SolveResult summarises one finished solve or repair.
type SolveResult struct {
	PlanID     string
	ForecastID string
	Status     model.PlanStatus
	KPIs       model.KPIs
	Rounds     int
	LowerBound int
	Duration   time.Duration
	Time       time.Time
}

// MetricsSink records solve outcomes for observability purposes.
type MetricsSink interface {
	RecordSolveResult(res SolveResult) error
}

// RoundEvent is the progress of a solve after one phase or round.
type RoundEvent struct {
	PlanID     string
	Phase      model.Phase
	Metrics    model.RoundMetrics
	LowerBound int
	Time       time.Time
}

// RoundRecorder records solve progress.
type RoundRecorder interface {
	RecordRound(ev RoundEvent) error
}

// AuditEvent summarises one audit run.
type AuditEvent struct {
	PlanID  string
	Passed  int
	Failing []model.CheckName
	Time    time.Time
}

// AuditRecorder records audit runs.
type AuditRecorder interface {
	RecordAudit(ev AuditEvent) error
}

// OverrideEvent records an accepted override.
type OverrideEvent struct {
	PlanID    string
	Check     model.CheckName
	Actor     string
	Emergency bool
	Time      time.Time
}

// OverrideRecorder records overrides.
type OverrideRecorder interface {
	RecordOverride(ev OverrideEvent) error
}

// RepairEvent describes a repaired plan.
type RepairEvent struct {
	PlanID   string
	ParentID string
	Event    model.EventType
	Churn    model.ChurnSummary
	Time     time.Time
}

// RepairRecorder records repairs.
type RepairRecorder interface {
	RecordRepair(ev RepairEvent) error
}

// LockEvent records a plan lock and the plans it superseded.
type LockEvent struct {
	PlanID     string
	ForecastID string
	Actor      string
	Superseded int
	Time       time.Time
}

// LockRecorder records locks.
type LockRecorder interface {
	RecordLock(ev LockEvent) error
}

// NopSink implements MetricsSink and every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSolveResult(SolveResult) error { return nil }

func (NopSink) RecordRound(RoundEvent) error       { return nil }
func (NopSink) RecordAudit(AuditEvent) error       { return nil }
func (NopSink) RecordOverride(OverrideEvent) error { return nil }
func (NopSink) RecordRepair(RepairEvent) error     { return nil }
func (NopSink) RecordLock(LockEvent) error         { return nil }
