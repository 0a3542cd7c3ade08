package model

import "time"

// Violation is one concrete breach found by an audit check.
type Violation struct {
	Rule      string   `json:"rule"`
	DriverIDs []string `json:"driver_ids,omitempty"`
	Tours     []string `json:"tours,omitempty"`
	Day       int      `json:"day,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

// AuditDetails is the structured payload of an audit record.
type AuditDetails struct {
	Violations []Violation        `json:"violations,omitempty"`
	Note       string             `json:"note,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// AuditRecord is one append-only check result for a plan.
type AuditRecord struct {
	Seq            int64        `json:"seq"`
	PlanID         string       `json:"plan_id"`
	Check          CheckName    `json:"check"`
	Status         AuditStatus  `json:"status"`
	ViolationCount int          `json:"violation_count"`
	Details        AuditDetails `json:"details"`
	Actor          string       `json:"actor,omitempty"`
	Justification  string       `json:"justification,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// EffectiveStatus folds records into the latest status per check. Records
// must be ordered by Seq.
func EffectiveStatus(recs []AuditRecord) map[CheckName]AuditStatus {
	out := make(map[CheckName]AuditStatus, len(AllChecks))
	for _, r := range recs {
		out[r.Check] = r.Status
	}
	return out
}

// FailingChecks returns the checks whose effective status is FAIL, in
// execution order.
func FailingChecks(recs []AuditRecord) []CheckName {
	eff := EffectiveStatus(recs)
	var out []CheckName
	for _, c := range AllChecks {
		if s, ok := eff[c]; ok && s == AuditFail {
			out = append(out, c)
		}
	}
	return out
}

// FreezeWindow forbids or gates changes close to a tour start.
type FreezeWindow struct {
	ThresholdMin int            `json:"threshold_minutes"`
	Behavior     FreezeBehavior `json:"behavior"`
}

// Override authorises an otherwise rejected change.
type Override struct {
	Actor         string `json:"actor"`
	Justification string `json:"justification"`
	// Emergency is required to touch a FROZEN window.
	Emergency bool `json:"emergency,omitempty"`
}

// Disruption is an operational event handled by the repair engine.
type Disruption struct {
	Type      EventType `json:"type"`
	Tours     []TourKey `json:"tours,omitempty"`
	DriverIDs []string  `json:"driver_ids,omitempty"`
	// Day restricts a NO_SHOW to one day. Zero means every day of the driver.
	Day          int       `json:"day,omitempty"`
	DelayMinutes int       `json:"delay_minutes,omitempty"`
	Override     *Override `json:"override,omitempty"`
}

// DiffRecord is the difference between two forecast versions for one
// fingerprint.
type DiffRecord struct {
	Fingerprint   string          `json:"fingerprint"`
	Type          DiffType        `json:"type"`
	Old           *NormalizedTour `json:"old,omitempty"`
	New           *NormalizedTour `json:"new,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
}
