package events

import (
	"fmt"
	"time"

	"github.com/kilianp07/roster/core/model"
)

// Kind classifies an Event.
type Kind int

const (
	KindStatus Kind = iota
	KindProgress
	KindAudit
	KindOverride
	KindRepair
)

var kindNames = []string{"status", "progress", "audit", "override", "repair"}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", b)
}

// Event is one entry of a plan's event log. Seq is assigned by the log and
// increases by one per plan.
type Event struct {
	Seq        int64               `json:"seq"`
	PlanID     string              `json:"plan_id"`
	Kind       Kind                `json:"kind"`
	Status     *model.PlanStatus   `json:"status,omitempty"`
	Phase      *model.Phase        `json:"phase,omitempty"`
	Metrics    *model.RoundMetrics `json:"metrics,omitempty"`
	LowerBound int                 `json:"lower_bound,omitempty"`
	Checks     []model.CheckName   `json:"checks,omitempty"`
	// Related names another plan, the child of a repair for instance.
	Related string    `json:"related,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Status builds a status event.
func Status(planID string, s model.PlanStatus, msg string) Event {
	return Event{PlanID: planID, Kind: KindStatus, Status: &s, Message: msg}
}

// Progress builds a progress event.
func Progress(planID string, p model.Phase, m model.RoundMetrics, lowerBound int) Event {
	return Event{PlanID: planID, Kind: KindProgress, Phase: &p, Metrics: &m, LowerBound: lowerBound}
}

// Terminal reports whether no further events follow for the plan's solve.
func (e Event) Terminal() bool {
	return e.Kind == KindStatus && e.Status != nil && e.Status.Terminal()
}
