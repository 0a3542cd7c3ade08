package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

func tour(fp string, day, start, end int) model.NormalizedTour {
	return model.NormalizedTour{Fingerprint: fp, Day: day, StartMin: start, EndMin: end, Count: 1}
}

func assign(driver string, t model.NormalizedTour) model.Assignment {
	return model.Assignment{
		PlanID:   "p1",
		DriverID: driver,
		Tour:     model.TourKey{Fingerprint: t.Fingerprint},
		Day:      t.Day,
		StartMin: t.StartMin,
		EndMin:   t.EndMin,
	}
}

func statuses(recs []model.AuditRecord) map[model.CheckName]model.AuditStatus {
	return model.EffectiveStatus(recs)
}

var fixed = ReproducerFunc(func(context.Context, model.PlanVersion) (string, error) { return "h", nil })

func TestRunCleanPlanPasses(t *testing.T) {
	a := tour("a", 1, 360, 480)
	b := tour("b", 1, 510, 630)
	c := tour("c", 2, 360, 600)
	in := Input{
		Plan:        model.PlanVersion{ID: "p1", OutputHash: "h"},
		Tours:       []model.NormalizedTour{a, b, c},
		Assignments: []model.Assignment{assign("DRV-001", a), assign("DRV-001", b), assign("DRV-002", c)},
		Rules:       rules.Default(),
	}
	recs, err := New(fixed).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, recs, len(model.AllChecks))
	for i, r := range recs {
		assert.Equal(t, model.AllChecks[i], r.Check)
		assert.Equal(t, model.AuditPass, r.Status, "%s: %+v", r.Check, r.Details)
		assert.Equal(t, SystemActor, r.Actor)
	}
	assert.NoError(t, Gate("p1", recs))
}

func TestRunFlagsViolations(t *testing.T) {
	early := tour("early", 1, 360, 480)
	clash := tour("clash", 1, 420, 540)
	late := tour("late", 1, 1200, 1320)
	next := tour("next", 2, 240, 360)
	long := tour("long", 3, 300, 1260)
	missing := tour("gap", 4, 360, 480)

	in := Input{
		Plan: model.PlanVersion{
			ID:         "p1",
			OutputHash: "other",
			Uncovered:  []model.TourKey{{Fingerprint: "gap"}},
		},
		Tours: []model.NormalizedTour{early, clash, late, next, long, missing},
		Assignments: []model.Assignment{
			assign("DRV-001", early), assign("DRV-001", clash),
			assign("DRV-002", late), assign("DRV-002", next),
			assign("DRV-003", long),
		},
		Rules: rules.Default(),
	}
	recs, err := New(fixed).Run(context.Background(), in)
	require.NoError(t, err)
	st := statuses(recs)
	assert.Equal(t, model.AuditFail, st[model.CheckCoverage])
	assert.Equal(t, model.AuditFail, st[model.CheckOverlap])
	assert.Equal(t, model.AuditFail, st[model.CheckRest])
	assert.Equal(t, model.AuditFail, st[model.CheckSpanRegular])
	assert.Equal(t, model.AuditFail, st[model.CheckFatigue])
	assert.Equal(t, model.AuditPass, st[model.CheckSpanSplit])
	assert.Equal(t, model.AuditFail, st[model.CheckReproducibility])

	err = Gate("p1", recs)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeAuditGateBlocked))
	var me *model.Error
	require.True(t, errors.As(err, &me))
	assert.Contains(t, me.Details["failing_checks"], "COVERAGE")
}

func TestOverlapAcrossMidnight(t *testing.T) {
	night := tour("night", 1, 1320, 1680)
	early := tour("early", 2, 180, 480)
	in := Input{
		Plan:        model.PlanVersion{ID: "p1", OutputHash: "h"},
		Tours:       []model.NormalizedTour{night, early},
		Assignments: []model.Assignment{assign("DRV-001", night), assign("DRV-001", early)},
		Rules:       rules.Default(),
	}
	vs := Evaluate(model.CheckOverlap, in)
	require.Len(t, vs, 1)
	assert.Equal(t, "overlap", vs[0].Rule)
	assert.Equal(t, []string{"DRV-001"}, vs[0].DriverIDs)
	assert.Empty(t, Evaluate(model.CheckRest, in))
	assert.NotEmpty(t, Validate(in))

	in.Assignments[1].DriverID = "DRV-002"
	assert.Empty(t, Validate(in))
}

func TestValidateIgnoresGapsButNotDoubles(t *testing.T) {
	a := tour("a", 1, 360, 480)
	b := tour("b", 1, 600, 700)
	in := Input{
		Plan:        model.PlanVersion{Uncovered: []model.TourKey{{Fingerprint: "b"}}},
		Tours:       []model.NormalizedTour{a, b},
		Assignments: []model.Assignment{assign("DRV-001", a)},
		Rules:       rules.Default(),
	}
	assert.Empty(t, Validate(in))

	in.Assignments = append(in.Assignments, assign("DRV-002", a))
	v := Validate(in)
	require.NotEmpty(t, v)
	assert.Equal(t, "double_assigned", v[0].Rule)
}

func TestReproducibilityFailures(t *testing.T) {
	in := Input{Plan: model.PlanVersion{ID: "p1", OutputHash: "h"}, Rules: rules.Default()}

	recs, err := New(nil).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.AuditFail, statuses(recs)[model.CheckReproducibility])

	broken := ReproducerFunc(func(context.Context, model.PlanVersion) (string, error) { return "", errors.New("boom") })
	recs, err = New(broken).Run(context.Background(), in)
	require.NoError(t, err)
	last := recs[len(recs)-1]
	assert.Equal(t, model.AuditFail, last.Status)
	assert.Equal(t, "rerun_failed", last.Details.Violations[0].Rule)
}

func TestOverridePolicy(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	e := New(fixed, WithClock(func() time.Time { return now }), WithPolicy(Policy{
		MinJustification: 10,
		Actors:           []string{"dispatcher"},
		EmergencyActors:  []string{"ops-lead"},
		Forbidden:        []string{"REPRODUCIBILITY"},
	}))

	cases := []struct {
		name  string
		check model.CheckName
		o     model.Override
		ok    bool
	}{
		{"accepted", model.CheckCoverage, model.Override{Actor: "dispatcher", Justification: "tour cancelled by customer"}, true},
		{"no actor", model.CheckCoverage, model.Override{Justification: "tour cancelled by customer"}, false},
		{"short justification", model.CheckCoverage, model.Override{Actor: "dispatcher", Justification: "ok"}, false},
		{"unknown actor", model.CheckCoverage, model.Override{Actor: "intern", Justification: "tour cancelled by customer"}, false},
		{"forbidden check", model.CheckReproducibility, model.Override{Actor: "dispatcher", Justification: "tour cancelled by customer"}, false},
		{"emergency needs lead", model.CheckFreezeWindow, model.Override{Actor: "dispatcher", Justification: "driver sick at depot", Emergency: true}, false},
		{"emergency by lead", model.CheckFreezeWindow, model.Override{Actor: "ops-lead", Justification: "driver sick at depot", Emergency: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := e.Override("p1", tc.check, tc.o, 2)
			if !tc.ok {
				require.Error(t, err)
				assert.True(t, model.IsCode(err, model.CodeOverrideRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.AuditOverride, rec.Status)
			assert.Equal(t, tc.o.Actor, rec.Actor)
			assert.Equal(t, 2, rec.ViolationCount)
			assert.Equal(t, now, rec.CreatedAt)
		})
	}
}

func TestGateHonoursLatestRecord(t *testing.T) {
	var recs []model.AuditRecord
	for i, c := range model.AllChecks {
		recs = append(recs, model.AuditRecord{Seq: int64(i + 1), Check: c, Status: model.AuditPass})
	}
	recs[0].Status = model.AuditFail
	require.Error(t, Gate("p1", recs))

	recs = append(recs, model.AuditRecord{Seq: 99, Check: model.CheckCoverage, Status: model.AuditOverride})
	assert.NoError(t, Gate("p1", recs))

	err := Gate("p1", recs[1:3])
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeAuditGateBlocked))
}
