package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/repair"
	"github.com/kilianp07/roster/core/solver"
)

// RepairRequest describes a disruption against a plan.
type RepairRequest struct {
	PlanID     string           `json:"plan_id"`
	Disruption model.Disruption `json:"disruption"`
	// Now is the reference time for the freeze window. Zero means the
	// manager's clock.
	Now time.Time `json:"now,omitempty"`
}

// Repair answers a disruption with a new SOLVED plan version derived from
// the given plan. The parent is left untouched. An approved freeze window
// override is appended to the new plan's audit trail before its roster is
// committed.
func (m *Manager) Repair(ctx context.Context, req RepairRequest) (model.PlanVersion, error) {
	parent, err := m.store.Plan(ctx, req.PlanID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	pas, err := m.Assignments(ctx, parent.ID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	f, err := m.store.Forecast(ctx, parent.ForecastID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	cfg, err := solver.DecodeConfig(parent.Config)
	if err != nil {
		return model.PlanVersion{}, model.Errorf(model.CodeConfigInvalid, "plan %s config snapshot", parent.ID).Wrap(err)
	}
	now := req.Now
	if now.IsZero() {
		now = m.now()
	}
	started := m.now()
	out, err := m.repair.Repair(ctx, repair.Request{
		Parent:      parent,
		Assignments: pas,
		Tours:       f.Tours,
		WeekAnchor:  f.WeekAnchor,
		Config:      cfg,
		Disruption:  req.Disruption,
		Now:         now,
	})
	if err != nil {
		return model.PlanVersion{}, err
	}

	created := m.now().UTC()
	rc := out.Context
	child := model.PlanVersion{
		ID:           m.newID(),
		ForecastID:   parent.ForecastID,
		ParentID:     parent.ID,
		BaseID:       parent.ID,
		LockedBlocks: out.Locked,
		Seed:         parent.Seed,
		ConfigHash:   parent.ConfigHash,
		Config:       parent.Config,
		Status:       model.PlanQueued,
		Repair:       &rc,
		Adjustments:  out.Adjustments,
		Unavailable:  out.Unavailable,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	if err := m.store.CreatePlan(ctx, child); err != nil {
		return model.PlanVersion{}, err
	}
	m.emit(events.Status(child.ID, model.PlanQueued, "repair of "+parent.ID))
	// The override record goes in before the roster so a SOLVED repair never
	// lacks it.
	if o := rc.Override; o != nil {
		if err := m.logFreezeOverride(ctx, child.ID, *o, out.Frozen); err != nil {
			m.fail(ctx, &child, err)
			return child, err
		}
	}
	if err := m.setStatus(ctx, &child, model.PlanSolving, "solving"); err != nil {
		return model.PlanVersion{}, err
	}
	if err := m.commit(ctx, &child, out.Result); err != nil {
		m.fail(ctx, &child, err)
		return child, err
	}

	churn := rc.Churn
	m.emit(events.Event{
		PlanID:  parent.ID,
		Kind:    events.KindRepair,
		Related: child.ID,
		Message: fmt.Sprintf("%s repaired: %d drivers changed, %d blocks moved", req.Disruption.Type, churn.DriversChanged, churn.BlocksMoved),
	})
	m.record(child, out.Result.LowerBound, m.now().Sub(started))
	if r, ok := m.sink.(metrics.RepairRecorder); ok {
		ev := metrics.RepairEvent{PlanID: child.ID, ParentID: parent.ID, Event: req.Disruption.Type, Churn: churn, Time: created}
		if err := r.RecordRepair(ev); err != nil {
			m.log.Warnf("metrics: repair of plan %s: %v", parent.ID, err)
		}
	}
	return child, nil
}

// logFreezeOverride records the override that allowed a repair to touch
// frozen tours.
func (m *Manager) logFreezeOverride(ctx context.Context, planID string, o model.Override, frozen []model.TourKey) error {
	keys := make([]string, len(frozen))
	for i, k := range frozen {
		keys[i] = k.String()
	}
	note := "freeze window override"
	if o.Emergency {
		note = "emergency freeze window override"
	}
	rec := model.AuditRecord{
		PlanID:         planID,
		Check:          model.CheckFreezeWindow,
		Status:         model.AuditOverride,
		ViolationCount: len(frozen),
		Details: model.AuditDetails{
			Note:       note,
			Violations: []model.Violation{{Rule: "freeze_window", Tours: keys}},
		},
		Actor:         o.Actor,
		Justification: o.Justification,
		CreatedAt:     m.now().UTC(),
	}
	if _, err := m.store.AppendAudit(ctx, []model.AuditRecord{rec}); err != nil {
		return err
	}
	m.overridden(planID, model.CheckFreezeWindow, o)
	return nil
}

// Diff compares two forecast versions by tour fingerprint. Results are
// cached per ordered pair.
func (m *Manager) Diff(ctx context.Context, oldID, newID string) ([]model.DiffRecord, error) {
	if recs, ok, err := m.cache.Get(ctx, oldID, newID); err != nil {
		m.log.Warnf("diff cache get %s: %v", forecast.CacheKey(oldID, newID), err)
	} else if ok {
		return recs, nil
	}
	old, err := m.store.Forecast(ctx, oldID)
	if err != nil {
		return nil, err
	}
	cur, err := m.store.Forecast(ctx, newID)
	if err != nil {
		return nil, err
	}
	recs := forecast.Diff(old.Tours, cur.Tours)
	if err := m.cache.Put(ctx, oldID, newID, recs); err != nil {
		m.log.Warnf("diff cache put %s: %v", forecast.CacheKey(oldID, newID), err)
	}
	return recs, nil
}
