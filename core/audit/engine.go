package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/model"
)

// SystemActor is recorded on records written by the engine itself.
const SystemActor = "system"

// Reproducer re-runs the solve (or repair) that produced a plan with the
// same seed and config snapshot and returns the output hash.
type Reproducer interface {
	Reproduce(ctx context.Context, plan model.PlanVersion) (string, error)
}

// ReproducerFunc adapts a function to Reproducer.
type ReproducerFunc func(ctx context.Context, plan model.PlanVersion) (string, error)

// Reproduce calls f.
func (f ReproducerFunc) Reproduce(ctx context.Context, plan model.PlanVersion) (string, error) {
	return f(ctx, plan)
}

// OverridePolicy decides whether an override may be recorded.
type OverridePolicy interface {
	Approve(check model.CheckName, o model.Override) error
}

// Policy is the configurable default OverridePolicy.
type Policy struct {
	// MinJustification is the minimum justification length in characters.
	MinJustification int `json:"min_justification"`
	// Actors restricts who may override. Empty allows anyone.
	Actors []string `json:"actors"`
	// EmergencyActors restricts who may issue emergency overrides. Empty
	// falls back to Actors.
	EmergencyActors []string `json:"emergency_actors"`
	// Forbidden lists checks that can never be overridden.
	Forbidden []string `json:"forbidden_checks"`
}

// DefaultPolicy requires a named actor and a justification of 10 characters.
func DefaultPolicy() Policy { return Policy{MinJustification: 10} }

// Approve implements OverridePolicy.
func (p Policy) Approve(check model.CheckName, o model.Override) error {
	reject := func(format string, args ...any) error {
		return model.Errorf(model.CodeOverrideRejected, format, args...).WithDetail("check", check.String())
	}
	if strings.TrimSpace(o.Actor) == "" {
		return reject("override needs an actor")
	}
	if len(strings.TrimSpace(o.Justification)) < p.MinJustification {
		return reject("justification shorter than %d characters", p.MinJustification)
	}
	for _, f := range p.Forbidden {
		if strings.EqualFold(f, check.String()) {
			return reject("check %s cannot be overridden", check)
		}
	}
	allowed := p.Actors
	if o.Emergency && len(p.EmergencyActors) > 0 {
		allowed = p.EmergencyActors
	}
	if len(allowed) > 0 && !contains(allowed, o.Actor) {
		return reject("actor %s may not override", o.Actor)
	}
	return nil
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Engine runs audits.
type Engine struct {
	repro  Reproducer
	policy OverridePolicy
	now    func() time.Time
	log    logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy replaces the default override policy.
func WithPolicy(p OverridePolicy) Option { return func(e *Engine) { e.policy = p } }

// WithClock sets the clock stamped on records.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// New creates an Engine. repro may be nil, in which case REPRODUCIBILITY
// always fails.
func New(repro Reproducer, opts ...Option) *Engine {
	e := &Engine{repro: repro, policy: DefaultPolicy(), now: time.Now, log: logger.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes all checks in order and returns one record per check. The
// records are not yet persisted; their Seq is zero.
func (e *Engine) Run(ctx context.Context, in Input) ([]model.AuditRecord, error) {
	out := make([]model.AuditRecord, 0, len(model.AllChecks))
	for _, c := range model.AllChecks {
		if err := ctx.Err(); err != nil {
			return nil, model.Errorf(model.CodeCancelled, "audit cancelled").Wrap(err)
		}
		var det model.AuditDetails
		if c == model.CheckReproducibility {
			det = e.reproduce(ctx, in.Plan)
		} else {
			det.Violations = Evaluate(c, in)
		}
		if c == model.CheckCoverage {
			det.Metrics = map[string]float64{
				"uncovered":    float64(in.Plan.KPIs.Uncovered),
				"coverage_pct": in.Plan.KPIs.CoveragePct,
			}
		}
		rec := model.AuditRecord{
			PlanID:         in.Plan.ID,
			Check:          c,
			Status:         model.AuditPass,
			ViolationCount: len(det.Violations),
			Details:        det,
			Actor:          SystemActor,
			CreatedAt:      e.now().UTC(),
		}
		if rec.ViolationCount > 0 {
			rec.Status = model.AuditFail
		}
		e.log.Debugf("audit %s %s: %s (%d violations)", in.Plan.ID, c, rec.Status, rec.ViolationCount)
		out = append(out, rec)
	}
	return out, nil
}

func (e *Engine) reproduce(ctx context.Context, plan model.PlanVersion) model.AuditDetails {
	fail := func(rule, detail string) model.AuditDetails {
		return model.AuditDetails{Violations: []model.Violation{{Rule: rule, Detail: detail}}}
	}
	if e.repro == nil {
		return fail("no_reproducer", "no solver available to reproduce the plan")
	}
	got, err := e.repro.Reproduce(ctx, plan)
	if err != nil {
		return fail("rerun_failed", err.Error())
	}
	if got != plan.OutputHash {
		return fail("hash_mismatch", fmt.Sprintf("expected %s, got %s", plan.OutputHash, got))
	}
	return model.AuditDetails{Note: "output hash reproduced with seed " + fmt.Sprint(plan.Seed)}
}

// Override validates an override against the policy and returns the
// OVERRIDE record to append. The violation count of the overridden check is
// carried over so the record stays truthful.
func (e *Engine) Override(planID string, check model.CheckName, o model.Override, violations int) (model.AuditRecord, error) {
	if err := e.policy.Approve(check, o); err != nil {
		return model.AuditRecord{}, err
	}
	note := "override"
	if o.Emergency {
		note = "emergency override"
	}
	return model.AuditRecord{
		PlanID:         planID,
		Check:          check,
		Status:         model.AuditOverride,
		ViolationCount: violations,
		Details:        model.AuditDetails{Note: note},
		Actor:          o.Actor,
		Justification:  o.Justification,
		CreatedAt:      e.now().UTC(),
	}, nil
}

// Approve exposes the policy for callers that record overrides elsewhere,
// such as freeze window overrides during repair.
func (e *Engine) Approve(check model.CheckName, o model.Override) error {
	return e.policy.Approve(check, o)
}

// Gate returns an AUDIT_GATE_BLOCKED error when any check's latest record is
// FAIL or when a check never ran.
func Gate(planID string, recs []model.AuditRecord) error {
	eff := model.EffectiveStatus(recs)
	var missing []string
	for _, c := range model.AllChecks {
		if _, ok := eff[c]; !ok {
			missing = append(missing, c.String())
		}
	}
	failing := model.FailingChecks(recs)
	if len(failing) == 0 && len(missing) == 0 {
		return nil
	}
	names := make([]string, len(failing))
	for i, c := range failing {
		names[i] = c.String()
	}
	err := model.Errorf(model.CodeAuditGateBlocked, "plan %s did not pass the audit gate", planID).
		WithDetail("plan_id", planID).
		WithDetail("failing_checks", names)
	if len(missing) > 0 {
		err.WithDetail("missing_checks", missing)
	}
	return err
}
