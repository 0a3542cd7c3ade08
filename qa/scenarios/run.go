package scenarios

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/roster/core/lifecycle"
	"github.com/kilianp07/roster/core/logger"
	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/infra/metrics"
	"github.com/kilianp07/roster/infra/store"
	"github.com/kilianp07/roster/pkg/export"
)

// RunScenario ingests the scenario's forecast, solves it, audits the plan and
// applies each repair in order, checking the expectations of every step.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	mgr := lifecycle.New(store.NewMemoryStore(),
		lifecycle.WithLogger(logger.Nop()),
		lifecycle.WithMetrics(sink),
		lifecycle.WithFreezeWindow(model.FreezeWindow{ThresholdMin: 720, Behavior: model.FreezeOverrideRequired}),
	)
	defer mgr.Close()

	anchor, err := sc.Anchor()
	if err != nil {
		t.Fatalf("week anchor: %v", err)
	}
	cfg, err := sc.SolverConfig()
	if err != nil {
		t.Fatalf("solver config: %v", err)
	}

	f, err := mgr.Ingest(ctx, sc.Name, sc.Forecast, anchor)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	p, err := mgr.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: cfg, Seed: sc.Seed})
	if !checkError(t, "solve", err, sc.Expected) {
		return
	}
	if p, err = mgr.Wait(ctx, p.ID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	checkPlan(ctx, t, mgr, "solve", p, sc.Expected)

	if sc.Lock {
		if _, err := mgr.Lock(ctx, p.ID, "qa"); err != nil {
			t.Fatalf("lock %s: %v", p.ID, err)
		}
	}

	for i, r := range sc.Repairs {
		step := "repair " + r.Type
		as, err := mgr.Assignments(ctx, p.ID)
		if err != nil {
			t.Fatalf("%s: assignments: %v", step, err)
		}
		export.Sort(as)
		d, err := r.disruption(as)
		if err != nil {
			t.Fatalf("%s: %v", step, err)
		}
		now := anchor.AddDate(0, 0, -7)
		if r.Now != "" {
			if now, err = time.Parse(time.RFC3339, r.Now); err != nil {
				t.Fatalf("%s: now: %v", step, err)
			}
		}
		child, err := mgr.Repair(ctx, lifecycle.RepairRequest{PlanID: p.ID, Disruption: d, Now: now})
		if !checkError(t, step, err, r.Expected) {
			continue
		}
		if child.ParentID != p.ID {
			t.Errorf("%s (#%d): parent %q, want %q", step, i, child.ParentID, p.ID)
		}
		checkPlan(ctx, t, mgr, step, child, r.Expected)
		p = child
	}

	if fams, err := reg.Gather(); err != nil || len(fams) == 0 {
		t.Errorf("no metrics recorded: %v", err)
	}
}

// checkError reports whether the step produced a value to check further.
func checkError(t *testing.T, step string, err error, exp Expected) bool {
	t.Helper()
	if exp.Error != "" {
		if err == nil {
			t.Errorf("%s: expected error %s", step, exp.Error)
		} else if got := model.CodeOf(err); string(got) != exp.Error {
			t.Errorf("%s: error code %s, want %s (%v)", step, got, exp.Error, err)
		}
		return false
	}
	if err != nil {
		t.Fatalf("%s: %v", step, err)
	}
	return true
}

func checkPlan(ctx context.Context, t *testing.T, mgr *lifecycle.Manager, step string, p model.PlanVersion, exp Expected) {
	t.Helper()
	if exp.Status != "" && p.Status.String() != exp.Status {
		t.Errorf("%s: status %s, want %s (%s)", step, p.Status, exp.Status, p.FailureReason)
	}
	if exp.Uncovered != nil && p.KPIs.Uncovered != *exp.Uncovered {
		t.Errorf("%s: uncovered %d, want %d", step, p.KPIs.Uncovered, *exp.Uncovered)
	}
	if exp.MaxDrivers > 0 && p.KPIs.DriversTotal > exp.MaxDrivers {
		t.Errorf("%s: %d drivers, want at most %d", step, p.KPIs.DriversTotal, exp.MaxDrivers)
	}
	if exp.MinCoveragePct > 0 && p.KPIs.CoveragePct < exp.MinCoveragePct {
		t.Errorf("%s: coverage %.1f%%, want at least %.1f%%", step, p.KPIs.CoveragePct, exp.MinCoveragePct)
	}
	if len(exp.Audit) == 0 {
		return
	}
	recs, err := mgr.AuditRecords(ctx, p.ID)
	if err != nil || len(recs) == 0 {
		if recs, err = mgr.Audit(ctx, p.ID); err != nil {
			t.Fatalf("%s: audit: %v", step, err)
		}
	}
	eff := model.EffectiveStatus(recs)
	for name, want := range exp.Audit {
		check, err := model.ParseCheck(name)
		if err != nil {
			t.Errorf("%s: %v", step, err)
			continue
		}
		if got, ok := eff[check]; !ok || got.String() != want {
			t.Errorf("%s: %s is %v, want %s", step, name, got, want)
		}
	}
}
