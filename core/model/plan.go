package model

import (
	"encoding/json"
	"time"
)

// PlanStatus is the lifecycle state of a plan version.
type PlanStatus int

const (
	PlanQueued PlanStatus = iota
	PlanSolving
	PlanSolved
	PlanFailed
	PlanAudited
	PlanLocked
	PlanSuperseded
)

var planNames = []string{"QUEUED", "SOLVING", "SOLVED", "FAILED", "AUDITED", "LOCKED", "SUPERSEDED"}

func (s PlanStatus) String() string { return enumName(planNames, int(s)) }

func (s PlanStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PlanStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("plan status", planNames, string(b))
	*s = PlanStatus(v)
	return err
}

// ParsePlanStatus resolves a plan status by name.
func ParsePlanStatus(s string) (PlanStatus, error) {
	v, err := parseEnum("plan status", planNames, s)
	return PlanStatus(v), err
}

// Terminal reports whether no further solve progress happens in this state.
func (s PlanStatus) Terminal() bool {
	return s != PlanQueued && s != PlanSolving
}

// CanTransition reports whether the state machine allows s -> to. Re-auditing
// an AUDITED plan is allowed and keeps the status.
func (s PlanStatus) CanTransition(to PlanStatus) bool {
	switch s {
	case PlanQueued:
		return to == PlanSolving || to == PlanFailed
	case PlanSolving:
		return to == PlanSolved || to == PlanFailed
	case PlanSolved:
		return to == PlanAudited || to == PlanSuperseded
	case PlanAudited:
		return to == PlanAudited || to == PlanLocked || to == PlanSuperseded
	case PlanLocked:
		return to == PlanSuperseded
	default:
		return false
	}
}

// HasAssignments reports whether plans in this state carry a roster.
func (s PlanStatus) HasAssignments() bool {
	switch s {
	case PlanSolved, PlanAudited, PlanLocked, PlanSuperseded:
		return true
	default:
		return false
	}
}

// KPIs summarises a roster.
type KPIs struct {
	DriversTotal    int     `json:"drivers_total"`
	DriversFTE      int     `json:"drivers_fte"`
	DriversPTCore   int     `json:"drivers_pt_core"`
	DriversPTFlex   int     `json:"drivers_pt_flex"`
	TotalHours      float64 `json:"total_hours"`
	Uncovered       int     `json:"uncovered"`
	CoveragePct     float64 `json:"coverage_pct"`
	PTOverflowHours float64 `json:"pt_overflow_hours"`
}

// DriversPT returns the number of part-time drivers.
func (k KPIs) DriversPT() int { return k.DriversPTCore + k.DriversPTFlex }

// RoundMetrics are reported after each solver round.
type RoundMetrics struct {
	Round          int     `json:"round"`
	PoolSize       int     `json:"pool_size"`
	DriversTotal   int     `json:"drivers_total"`
	DriversFTE     int     `json:"drivers_fte"`
	DriversPT      int     `json:"drivers_pt"`
	Uncovered      int     `json:"uncovered"`
	PoolQualityPct float64 `json:"pool_quality_pct"`
}

// Replay captures the work a solve completed so a reproduction can stop at
// the same point regardless of wall-clock speed.
type Replay struct {
	Rounds        int  `json:"rounds"`
	LNSIterations int  `json:"lns_iterations"`
	Truncated     bool `json:"truncated,omitempty"`
}

// PlanVersion is one solver run's output for a forecast version.
type PlanVersion struct {
	ID         string `json:"id"`
	ForecastID string `json:"forecast_id"`
	// ParentID links a repair result to the plan it was derived from.
	ParentID string `json:"parent_id,omitempty"`
	// BaseID is the previously locked plan used for churn tie-breaks.
	BaseID       string          `json:"base_id,omitempty"`
	LockedBlocks []string        `json:"locked_blocks,omitempty"`
	Seed         int64           `json:"seed"`
	ConfigHash   string          `json:"config_hash"`
	Config       json.RawMessage `json:"config,omitempty"`
	OutputHash   string          `json:"output_hash,omitempty"`
	Status       PlanStatus      `json:"status"`
	// Gaps is set when the roster leaves tours uncovered.
	Gaps        bool           `json:"gaps"`
	KPIs        KPIs           `json:"kpis"`
	Uncovered   []TourKey      `json:"uncovered,omitempty"`
	Rounds      []RoundMetrics `json:"rounds,omitempty"`
	Replay      Replay         `json:"replay"`
	Repair      *RepairContext `json:"repair,omitempty"`
	Adjustments map[string]int `json:"adjustments,omitempty"`
	// Unavailable lists the days no-show drivers are kept off, carried from
	// repair to repair.
	Unavailable   map[string][]int `json:"unavailable,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	LockedAt      *time.Time       `json:"locked_at,omitempty"`
	LockedBy      string           `json:"locked_by,omitempty"`
}

// Assignment binds one tour instance to one driver within a plan.
type Assignment struct {
	PlanID      string      `json:"plan_id"`
	DriverID    string      `json:"driver_id"`
	Tour        TourKey     `json:"tour"`
	Day         int         `json:"day"`
	BlockID     string      `json:"block_id"`
	Role        Role        `json:"role"`
	StartMin    int         `json:"start_min"`
	EndMin      int         `json:"end_min"`
	DriverClass DriverClass `json:"driver_class"`
}

// ChurnSummary measures how far a repaired plan moved from its parent.
type ChurnSummary struct {
	DriversChanged  int      `json:"drivers_changed"`
	BlocksMoved     int      `json:"blocks_moved"`
	ToursReassigned int      `json:"tours_reassigned"`
	ChangedDrivers  []string `json:"changed_drivers,omitempty"`
}

// RepairContext records the disruption a repair plan answered.
type RepairContext struct {
	Event     EventType    `json:"event"`
	Tours     []TourKey    `json:"tours,omitempty"`
	DriverIDs []string     `json:"driver_ids,omitempty"`
	Day       int          `json:"day,omitempty"`
	Delay     int          `json:"delay_minutes,omitempty"`
	Churn     ChurnSummary `json:"churn"`
	Override  *Override    `json:"override,omitempty"`
	Released  []TourKey    `json:"released,omitempty"`
}
