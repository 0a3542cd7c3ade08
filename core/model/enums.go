package model

import (
	"fmt"
	"strings"
)

// enumName returns names[i] or "unknown" when i is out of range.
func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "unknown"
	}
	return names[i]
}

// parseEnum resolves s case-insensitively against names.
func parseEnum(kind string, names []string, s string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, strings.TrimSpace(s)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", kind, s)
}

// ValidationStatus is the outcome of validating a forecast version.
type ValidationStatus int

const (
	ValidationPass ValidationStatus = iota
	ValidationWarn
	ValidationFail
)

var validationNames = []string{"PASS", "WARN", "FAIL"}

func (s ValidationStatus) String() string { return enumName(validationNames, int(s)) }

func (s ValidationStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ValidationStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("validation status", validationNames, string(b))
	*s = ValidationStatus(v)
	return err
}

// LineStatus is the per-line parse outcome.
type LineStatus int

const (
	LinePass LineStatus = iota
	LineWarn
	LineFail
	LineSkipped
)

var lineNames = []string{"PASS", "WARN", "FAIL", "SKIPPED"}

func (s LineStatus) String() string { return enumName(lineNames, int(s)) }

func (s LineStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *LineStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("line status", lineNames, string(b))
	*s = LineStatus(v)
	return err
}

// BlockType classifies a block by the number of tours it holds.
type BlockType int

const (
	BlockSingle BlockType = iota
	BlockDouble
	BlockTriple
)

var blockNames = []string{"SINGLE", "DOUBLE", "TRIPLE"}

func (t BlockType) String() string { return enumName(blockNames, int(t)) }

func (t BlockType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *BlockType) UnmarshalText(b []byte) error {
	v, err := parseEnum("block type", blockNames, string(b))
	*t = BlockType(v)
	return err
}

// BlockTypeFor returns the block type for n tours. n must be 1..3.
func BlockTypeFor(n int) BlockType {
	switch n {
	case 1:
		return BlockSingle
	case 2:
		return BlockDouble
	default:
		return BlockTriple
	}
}

// DriverClass classifies a driver by weekly hours.
type DriverClass int

const (
	ClassFTE DriverClass = iota
	ClassPTCore
	ClassPTFlex
)

var classNames = []string{"FTE", "PT_CORE", "PT_FLEX"}

func (c DriverClass) String() string { return enumName(classNames, int(c)) }

func (c DriverClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *DriverClass) UnmarshalText(b []byte) error {
	v, err := parseEnum("driver class", classNames, string(b))
	*c = DriverClass(v)
	return err
}

// IsPartTime reports whether the class counts towards part-time totals.
func (c DriverClass) IsPartTime() bool { return c != ClassFTE }

// Role of an assignment.
type Role int

const (
	RolePrimary Role = iota
	RoleBackup
)

var roleNames = []string{"PRIMARY", "BACKUP"}

func (r Role) String() string { return enumName(roleNames, int(r)) }

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := parseEnum("role", roleNames, string(b))
	*r = Role(v)
	return err
}

// CheckName identifies one of the audit checks. The order of the constants is
// the execution order.
type CheckName int

const (
	CheckCoverage CheckName = iota
	CheckOverlap
	CheckRest
	CheckSpanRegular
	CheckSpanSplit
	CheckFatigue
	CheckReproducibility
	// CheckFreezeWindow is never run. It only carries OVERRIDE records for
	// repairs that touched a tour inside a freeze window.
	CheckFreezeWindow
)

var checkNames = []string{"COVERAGE", "OVERLAP", "REST", "SPAN_REGULAR", "SPAN_SPLIT", "FATIGUE", "REPRODUCIBILITY", "FREEZE_WINDOW"}

// AllChecks lists every executed check in execution order.
var AllChecks = []CheckName{
	CheckCoverage, CheckOverlap, CheckRest, CheckSpanRegular, CheckSpanSplit, CheckFatigue, CheckReproducibility,
}

func (c CheckName) String() string { return enumName(checkNames, int(c)) }

func (c CheckName) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *CheckName) UnmarshalText(b []byte) error {
	v, err := parseEnum("check", checkNames, string(b))
	*c = CheckName(v)
	return err
}

// ParseCheck resolves a check by name.
func ParseCheck(s string) (CheckName, error) {
	v, err := parseEnum("check", checkNames, s)
	return CheckName(v), err
}

// AuditStatus is the status of one audit record.
type AuditStatus int

const (
	AuditPass AuditStatus = iota
	AuditFail
	AuditOverride
)

var auditNames = []string{"PASS", "FAIL", "OVERRIDE"}

func (s AuditStatus) String() string { return enumName(auditNames, int(s)) }

func (s AuditStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *AuditStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("audit status", auditNames, string(b))
	*s = AuditStatus(v)
	return err
}

// EventType is the kind of disruption handled by the repair engine.
type EventType int

const (
	EventNoShow EventType = iota
	EventDelay
	EventVehicleDown
	EventManual
)

var eventNames = []string{"NO_SHOW", "DELAY", "VEHICLE_DOWN", "MANUAL"}

func (e EventType) String() string { return enumName(eventNames, int(e)) }

func (e EventType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *EventType) UnmarshalText(b []byte) error {
	v, err := parseEnum("event type", eventNames, string(b))
	*e = EventType(v)
	return err
}

// ParseEventType resolves a disruption type by name.
func ParseEventType(s string) (EventType, error) {
	v, err := parseEnum("event type", eventNames, s)
	return EventType(v), err
}

// FreezeBehavior selects what happens to changes inside a freeze window.
type FreezeBehavior int

const (
	FreezeFrozen FreezeBehavior = iota
	FreezeOverrideRequired
)

var freezeNames = []string{"FROZEN", "OVERRIDE_REQUIRED"}

func (f FreezeBehavior) String() string { return enumName(freezeNames, int(f)) }

func (f FreezeBehavior) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FreezeBehavior) UnmarshalText(b []byte) error {
	v, err := parseEnum("freeze behavior", freezeNames, string(b))
	*f = FreezeBehavior(v)
	return err
}

// DiffType classifies a forecast diff record.
type DiffType int

const (
	DiffAdded DiffType = iota
	DiffRemoved
	DiffChanged
)

var diffNames = []string{"ADDED", "REMOVED", "CHANGED"}

func (d DiffType) String() string { return enumName(diffNames, int(d)) }

func (d DiffType) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DiffType) UnmarshalText(b []byte) error {
	v, err := parseEnum("diff type", diffNames, string(b))
	*d = DiffType(v)
	return err
}

// Phase names a solve pipeline stage reported on the progress stream.
type Phase int

const (
	PhaseBlockBuild Phase = iota
	PhaseCapacity
	PhaseSetPartition
	PhaseRepair
	PhaseExport
	PhaseQualityGate
)

var phaseNames = []string{"block_build", "capacity", "set_partition", "repair", "export", "quality_gate"}

func (p Phase) String() string { return enumName(phaseNames, int(p)) }

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := parseEnum("phase", phaseNames, string(b))
	*p = Phase(v)
	return err
}
