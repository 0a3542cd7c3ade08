package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilianp07/roster/core/audit"
	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/repair"
	"github.com/kilianp07/roster/core/solver"
)

// mutable rejects changes to plans that are locked or not in one of the
// allowed states.
func mutable(p model.PlanVersion, op string, allowed ...model.PlanStatus) error {
	if p.Status == model.PlanLocked {
		return model.Errorf(model.CodePlanImmutable, "plan %s is locked", p.ID).WithDetail("plan_id", p.ID)
	}
	for _, s := range allowed {
		if p.Status == s {
			return nil
		}
	}
	return model.Errorf(model.CodeInvalidTransition, "cannot %s a %s plan", op, p.Status).
		WithDetail("plan_id", p.ID).
		WithDetail("status", p.Status.String())
}

// Audit runs every check against a SOLVED or AUDITED plan, appends the
// records and moves the plan to AUDITED. Failing checks do not make the call
// fail; they block the lock gate instead. The checks, reproduction included,
// run without holding the lock mutex; the plan state is checked again before
// the records are appended.
func (m *Manager) Audit(ctx context.Context, planID string) ([]model.AuditRecord, error) {
	p, err := m.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := mutable(p, "audit", model.PlanSolved, model.PlanAudited); err != nil {
		return nil, err
	}
	f, err := m.store.Forecast(ctx, p.ForecastID)
	if err != nil {
		return nil, err
	}
	as, err := m.store.Assignments(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cfg, err := solver.DecodeConfig(p.Config)
	if err != nil {
		return nil, model.Errorf(model.CodeConfigInvalid, "plan %s config snapshot", p.ID).Wrap(err)
	}
	recs, err := m.audit.Run(ctx, audit.Input{Plan: p, Tours: f.Tours, Assignments: as, Rules: cfg.Rules})
	if err != nil {
		return nil, err
	}

	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if p, err = m.store.Plan(ctx, planID); err != nil {
		return nil, err
	}
	if err := mutable(p, "audit", model.PlanSolved, model.PlanAudited); err != nil {
		return nil, err
	}
	stored, err := m.store.AppendAudit(ctx, recs)
	if err != nil {
		return nil, err
	}
	if err := m.setStatus(ctx, &p, model.PlanAudited, "audited"); err != nil {
		return nil, err
	}

	failing := model.FailingChecks(stored)
	msg := "all checks passed"
	if len(failing) > 0 {
		names := make([]string, len(failing))
		for i, c := range failing {
			names[i] = c.String()
		}
		msg = "failing: " + strings.Join(names, ", ")
	}
	m.emit(events.Event{PlanID: p.ID, Kind: events.KindAudit, Checks: failing, Message: msg})
	m.log.Infof("audited plan %s: %s", p.ID, msg)
	if r, ok := m.sink.(metrics.AuditRecorder); ok {
		ev := metrics.AuditEvent{PlanID: p.ID, Passed: len(stored) - len(failing), Failing: failing, Time: m.now().UTC()}
		if err := r.RecordAudit(ev); err != nil {
			m.log.Warnf("metrics: audit of plan %s: %v", p.ID, err)
		}
	}
	return stored, nil
}

// Override appends an OVERRIDE record for a failing check once the policy
// approves it. The check's latest record must be FAIL.
func (m *Manager) Override(ctx context.Context, planID string, check model.CheckName, o model.Override) (model.AuditRecord, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	p, err := m.store.Plan(ctx, planID)
	if err != nil {
		return model.AuditRecord{}, err
	}
	if err := mutable(p, "override", model.PlanSolved, model.PlanAudited); err != nil {
		return model.AuditRecord{}, err
	}
	recs, err := m.store.AuditRecords(ctx, planID)
	if err != nil {
		return model.AuditRecord{}, err
	}
	var last *model.AuditRecord
	for i := range recs {
		if recs[i].Check == check {
			last = &recs[i]
		}
	}
	if last == nil || last.Status != model.AuditFail {
		return model.AuditRecord{}, model.Errorf(model.CodeInputInvalid, "check %s of plan %s is not failing", check, planID).
			WithDetail("plan_id", planID).
			WithDetail("check", check.String())
	}
	rec, err := m.audit.Override(planID, check, o, last.ViolationCount)
	if err != nil {
		return model.AuditRecord{}, err
	}
	stored, err := m.store.AppendAudit(ctx, []model.AuditRecord{rec})
	if err != nil {
		return model.AuditRecord{}, err
	}
	m.overridden(planID, check, o)
	return stored[0], nil
}

func (m *Manager) overridden(planID string, check model.CheckName, o model.Override) {
	m.emit(events.Event{
		PlanID:  planID,
		Kind:    events.KindOverride,
		Checks:  []model.CheckName{check},
		Message: fmt.Sprintf("%s overridden by %s", check, o.Actor),
	})
	m.log.Warnf("plan %s: %s overridden by %s: %s", planID, check, o.Actor, o.Justification)
	if r, ok := m.sink.(metrics.OverrideRecorder); ok {
		ev := metrics.OverrideEvent{PlanID: planID, Check: check, Actor: o.Actor, Emergency: o.Emergency, Time: m.now().UTC()}
		if err := r.RecordOverride(ev); err != nil {
			m.log.Warnf("metrics: override of plan %s: %v", planID, err)
		}
	}
}

// Lock freezes an AUDITED plan whose audit trail has no outstanding FAIL and
// supersedes every other plan of the same forecast that carries a roster.
func (m *Manager) Lock(ctx context.Context, planID, actor string) (model.PlanVersion, error) {
	if strings.TrimSpace(actor) == "" {
		return model.PlanVersion{}, model.Errorf(model.CodeInputInvalid, "lock needs an actor")
	}
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	p, err := m.store.Plan(ctx, planID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	if err := mutable(p, "lock", model.PlanSolved, model.PlanAudited); err != nil {
		return model.PlanVersion{}, err
	}
	recs, err := m.store.AuditRecords(ctx, planID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	if err := audit.Gate(planID, recs); err != nil {
		m.log.Warnf("lock of plan %s by %s blocked: %v", planID, actor, err)
		return model.PlanVersion{}, err
	}

	now := m.now().UTC()
	next := p
	next.Status = model.PlanLocked
	next.LockedAt = &now
	next.LockedBy = actor
	next.UpdatedAt = now
	if err := m.store.UpdatePlan(ctx, next); err != nil {
		return model.PlanVersion{}, err
	}
	m.emit(events.Status(p.ID, model.PlanLocked, "locked by "+actor))

	others, err := m.store.Plans(ctx, p.ForecastID)
	if err != nil {
		return next, err
	}
	superseded := 0
	for _, o := range others {
		if o.ID == p.ID || o.Status == model.PlanSuperseded || !o.Status.HasAssignments() {
			continue
		}
		if err := m.setStatus(ctx, &o, model.PlanSuperseded, "superseded by "+p.ID); err != nil {
			return next, err
		}
		superseded++
	}
	m.log.Infof("plan %s locked by %s, %d plans superseded", p.ID, actor, superseded)
	if r, ok := m.sink.(metrics.LockRecorder); ok {
		ev := metrics.LockEvent{PlanID: p.ID, ForecastID: p.ForecastID, Actor: actor, Superseded: superseded, Time: now}
		if err := r.RecordLock(ev); err != nil {
			m.log.Warnf("metrics: lock of plan %s: %v", p.ID, err)
		}
	}
	return next, nil
}

// reproduce re-runs the solve behind a plan, bounded by the work the plan
// recorded, and returns the output hash. Repair plans are reproduced from
// their parent and disruption without the freeze window check.
func (m *Manager) reproduce(ctx context.Context, p model.PlanVersion) (string, error) {
	cfg, err := solver.DecodeConfig(p.Config)
	if err != nil {
		return "", err
	}
	f, err := m.store.Forecast(ctx, p.ForecastID)
	if err != nil {
		return "", err
	}
	replay := p.Replay

	if p.ParentID != "" {
		if p.Repair == nil {
			return "", fmt.Errorf("repair plan %s has no repair context", p.ID)
		}
		parent, err := m.store.Plan(ctx, p.ParentID)
		if err != nil {
			return "", err
		}
		pas, err := m.store.Assignments(ctx, parent.ID)
		if err != nil {
			return "", err
		}
		// The parent may have been superseded since; its roster is unchanged.
		parent.Status = model.PlanSolved
		out, err := m.repair.Reproduce(ctx, repair.Request{
			Parent:      parent,
			Assignments: pas,
			Tours:       f.Tours,
			WeekAnchor:  f.WeekAnchor,
			Config:      cfg,
			Disruption: model.Disruption{
				Type:         p.Repair.Event,
				Tours:        p.Repair.Tours,
				DriverIDs:    p.Repair.DriverIDs,
				Day:          p.Repair.Day,
				DelayMinutes: p.Repair.Delay,
			},
			Replay: &replay,
		})
		if err != nil {
			return "", err
		}
		return out.Result.OutputHash, nil
	}

	in := solver.Input{Tours: f.Tours, Seed: p.Seed, Replay: &replay}
	if p.BaseID != "" {
		if in.Previous, err = m.store.Assignments(ctx, p.BaseID); err != nil {
			return "", err
		}
		if in.Pinned, err = pinsFrom(cfg, f.Tours, in.Previous, p.LockedBlocks); err != nil {
			return "", err
		}
	}
	res, err := m.solver.Solve(ctx, cfg, in)
	if err != nil {
		return "", err
	}
	return res.OutputHash, nil
}
