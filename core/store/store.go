// Package store defines the persistence boundary of the roster engine.
// Implementations live in infra/store and must enforce the immutability
// rules checked here.
package store

import (
	"context"

	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/model"
)

// Store persists forecasts, plans, assignments and audit records.
type Store interface {
	// PutForecast stores a new forecast version. Forecasts are immutable.
	PutForecast(ctx context.Context, f model.ForecastVersion) error
	Forecast(ctx context.Context, id string) (model.ForecastVersion, error)
	// ForecastByHash finds a forecast ingested with the same content and
	// ruleset.
	ForecastByHash(ctx context.Context, contentHash, rulesetHash string) (model.ForecastVersion, bool, error)
	Forecasts(ctx context.Context) ([]model.ForecastVersion, error)

	CreatePlan(ctx context.Context, p model.PlanVersion) error
	Plan(ctx context.Context, id string) (model.PlanVersion, error)
	// FindPlan returns the newest plan of a forecast solved with the config
	// hash and seed. Repair plans are ignored.
	FindPlan(ctx context.Context, forecastID, configHash string, seed int64) (model.PlanVersion, bool, error)
	Plans(ctx context.Context, forecastID string) ([]model.PlanVersion, error)
	// UpdatePlan replaces a plan's metadata. See CheckUpdate.
	UpdatePlan(ctx context.Context, p model.PlanVersion) error
	// CommitPlan moves a SOLVING plan to SOLVED and writes its assignments
	// in one step.
	CommitPlan(ctx context.Context, p model.PlanVersion, as []model.Assignment) error
	Assignments(ctx context.Context, planID string) ([]model.Assignment, error)

	// AppendAudit appends records and returns them with their sequence
	// numbers. Records are never updated or deleted.
	AppendAudit(ctx context.Context, recs []model.AuditRecord) ([]model.AuditRecord, error)
	AuditRecords(ctx context.Context, planID string) ([]model.AuditRecord, error)

	Close() error
}

// NotFound builds the NOT_FOUND error of a missing entity.
func NotFound(kind, id string) error {
	return model.Errorf(model.CodeNotFound, "%s %s not found", kind, id).WithDetail(kind+"_id", id)
}

// CheckUpdate enforces the plan immutability rules: the state machine must
// allow the transition and a LOCKED plan may only become SUPERSEDED, with
// nothing else changed.
func CheckUpdate(old, next model.PlanVersion) error {
	if old.Status == model.PlanLocked {
		if next.Status != model.PlanSuperseded || !sameMeta(old, next) {
			return model.Errorf(model.CodePlanImmutable, "plan %s is locked", old.ID).WithDetail("plan_id", old.ID)
		}
		return nil
	}
	if old.Status != next.Status && !old.Status.CanTransition(next.Status) {
		return model.Errorf(model.CodeInvalidTransition, "plan %s cannot move from %s to %s", old.ID, old.Status, next.Status).
			WithDetail("plan_id", old.ID).
			WithDetail("from", old.Status.String()).
			WithDetail("to", next.Status.String())
	}
	if old.OutputHash != "" && next.OutputHash != old.OutputHash {
		return model.Errorf(model.CodePlanImmutable, "plan %s output is already committed", old.ID).WithDetail("plan_id", old.ID)
	}
	return nil
}

// CheckCommit validates a SOLVING -> SOLVED commit.
func CheckCommit(old, next model.PlanVersion, hasAssignments bool) error {
	if hasAssignments || old.Status == model.PlanLocked {
		return model.Errorf(model.CodePlanImmutable, "plan %s already has assignments", old.ID).WithDetail("plan_id", old.ID)
	}
	if old.Status != model.PlanSolving || next.Status != model.PlanSolved {
		return model.Errorf(model.CodeInvalidTransition, "plan %s cannot commit from %s to %s", old.ID, old.Status, next.Status).
			WithDetail("plan_id", old.ID)
	}
	return nil
}

// CheckAppend rejects audit records that try to rewrite history.
func CheckAppend(recs []model.AuditRecord) error {
	for _, r := range recs {
		if r.Seq != 0 {
			return model.Errorf(model.CodeAuditAppendOnly, "audit record %d of plan %s already stored", r.Seq, r.PlanID)
		}
		if r.PlanID == "" {
			return model.Errorf(model.CodeInputInvalid, "audit record without plan")
		}
	}
	return nil
}

func sameMeta(a, b model.PlanVersion) bool {
	return a.ID == b.ID &&
		a.ForecastID == b.ForecastID &&
		a.ParentID == b.ParentID &&
		a.OutputHash == b.OutputHash &&
		a.ConfigHash == b.ConfigHash &&
		a.Seed == b.Seed &&
		a.Gaps == b.Gaps &&
		a.KPIs == b.KPIs &&
		a.LockedBy == b.LockedBy
}

var registry = factory.NewRegistry[Store]()

// Register adds a store backend identified by name.
func Register(name string, f factory.Factory[Store]) error {
	return registry.Register(name, f)
}

// New opens the store backend described by cfg. An empty type selects the
// in-memory backend.
func New(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return registry.Create(cfg)
}
