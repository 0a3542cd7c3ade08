package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/lifecycle"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
	"github.com/kilianp07/roster/infra/store"
)

// monday is the anchor of the test week.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

const minimalCover = "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00\n"

func testConfig() solver.Config {
	cfg := solver.DefaultConfig()
	cfg.Refine.Enabled = false
	return cfg
}

func newManager(t *testing.T, opts ...lifecycle.Option) (*lifecycle.Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	m := lifecycle.New(st, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m, st
}

// solved ingests text and waits for a finished solve.
func solved(t *testing.T, m *lifecycle.Manager, text string, seed int64) model.PlanVersion {
	t.Helper()
	ctx := context.Background()
	f, err := m.Ingest(ctx, "test", text, monday)
	require.NoError(t, err)
	p, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: testConfig(), Seed: seed})
	require.NoError(t, err)
	p, err = m.Wait(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanSolved, p.Status, p.FailureReason)
	return p
}

func TestSolveAuditLock(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	p := solved(t, m, minimalCover, 1)
	assert.Equal(t, 1, p.KPIs.DriversTotal)
	assert.False(t, p.Gaps)

	recs, err := m.Audit(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, recs, len(model.AllChecks))
	for _, r := range recs {
		assert.Equal(t, model.AuditPass, r.Status, "%s: %+v", r.Check, r.Details)
	}

	locked, err := m.Lock(ctx, p.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, model.PlanLocked, locked.Status)
	require.NotNil(t, locked.LockedAt)
	assert.Equal(t, "ops", locked.LockedBy)

	as, err := m.Assignments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, as, 3)

	t.Run("locked plan is immutable", func(t *testing.T) {
		_, err := m.Lock(ctx, p.ID, "ops")
		assert.True(t, model.IsCode(err, model.CodePlanImmutable), "got %v", err)
		_, err = m.Audit(ctx, p.ID)
		assert.True(t, model.IsCode(err, model.CodePlanImmutable), "got %v", err)
		_, err = m.Override(ctx, p.ID, model.CheckCoverage, model.Override{Actor: "ops", Justification: "long enough text"})
		assert.True(t, model.IsCode(err, model.CodePlanImmutable), "got %v", err)

		err = st.CommitPlan(ctx, locked, as)
		assert.True(t, model.IsCode(err, model.CodePlanImmutable), "got %v", err)
		stored, err := m.AuditRecords(ctx, p.ID)
		require.NoError(t, err)
		_, err = st.AppendAudit(ctx, stored[:1])
		assert.True(t, model.IsCode(err, model.CodeAuditAppendOnly), "got %v", err)
	})
}

func TestLockGateBlocksFailingCoverage(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	p := solved(t, m, "Mo 04:00-19:00\n", 1)
	assert.True(t, p.Gaps)
	assert.Equal(t, 1, p.KPIs.Uncovered)

	_, err := m.Lock(ctx, p.ID, "ops")
	assert.True(t, model.IsCode(err, model.CodeAuditGateBlocked), "unaudited plan: %v", err)

	recs, err := m.Audit(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.CheckName{model.CheckCoverage}, model.FailingChecks(recs))

	_, err = m.Lock(ctx, p.ID, "ops")
	assert.True(t, model.IsCode(err, model.CodeAuditGateBlocked), "got %v", err)

	_, err = m.Override(ctx, p.ID, model.CheckCoverage, model.Override{Actor: "ops", Justification: "short"})
	assert.True(t, model.IsCode(err, model.CodeOverrideRejected), "got %v", err)
	_, err = m.Override(ctx, p.ID, model.CheckOverlap, model.Override{Actor: "ops", Justification: "nothing to override here"})
	assert.True(t, model.IsCode(err, model.CodeInputInvalid), "got %v", err)

	rec, err := m.Override(ctx, p.ID, model.CheckCoverage, model.Override{Actor: "ops", Justification: "external carrier covers the long tour"})
	require.NoError(t, err)
	assert.Equal(t, model.AuditOverride, rec.Status)
	assert.Equal(t, 1, rec.ViolationCount)
	assert.Equal(t, int64(len(model.AllChecks)+1), rec.Seq)

	locked, err := m.Lock(ctx, p.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, model.PlanLocked, locked.Status)

	all, err := m.AuditRecords(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, len(model.AllChecks)+1)
	assert.Equal(t, model.AuditFail, all[0].Status, "the FAIL record stays in the trail")
}

func TestSolveIsIdempotentAndDeterministic(t *testing.T) {
	text := "Mo 06:00-10:00 3x\nMo 10:30-14:00 2x\nMo 14:30-18:00\nDi 06:00-12:00 2x\n"
	a, _ := newManager(t)
	b, _ := newManager(t)
	pa := solved(t, a, text, 42)
	pb := solved(t, b, text, 42)
	assert.Equal(t, pa.OutputHash, pb.OutputHash)
	assert.Equal(t, pa.ConfigHash, pb.ConfigHash)

	ctx := context.Background()
	asA, err := a.Assignments(ctx, pa.ID)
	require.NoError(t, err)
	asB, err := b.Assignments(ctx, pb.ID)
	require.NoError(t, err)
	require.Len(t, asB, len(asA))
	for i := range asA {
		asA[i].PlanID, asB[i].PlanID = "", ""
	}
	assert.Equal(t, asA, asB)

	again, err := a.Solve(ctx, lifecycle.SolveRequest{ForecastID: pa.ForecastID, Config: testConfig(), Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, pa.ID, again.ID)

	other, err := a.Solve(ctx, lifecycle.SolveRequest{ForecastID: pa.ForecastID, Config: testConfig(), Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, pa.ID, other.ID)
	_, err = a.Wait(ctx, other.ID)
	require.NoError(t, err)
}

func TestIngestAndSolveValidation(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	f1, err := m.Ingest(ctx, "upload", minimalCover, monday)
	require.NoError(t, err)
	f2, err := m.Ingest(ctx, "upload", minimalCover, monday)
	require.NoError(t, err)
	assert.Equal(t, f1.ID, f2.ID)

	bad, err := m.Ingest(ctx, "upload", "XX 06:00-08:00\n", monday)
	require.NoError(t, err)
	assert.Equal(t, model.ValidationFail, bad.Status)
	_, err = m.Solve(ctx, lifecycle.SolveRequest{ForecastID: bad.ID, Config: testConfig()})
	assert.True(t, model.IsCode(err, model.CodeForecastNotSolvable), "got %v", err)

	cfg := testConfig()
	cfg.TimeBudgetMs = 0
	_, err = m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f1.ID, Config: cfg})
	assert.True(t, model.IsCode(err, model.CodeConfigInvalid), "got %v", err)

	_, err = m.Solve(ctx, lifecycle.SolveRequest{ForecastID: "missing", Config: testConfig()})
	assert.True(t, model.IsCode(err, model.CodeNotFound), "got %v", err)

	_, err = m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f1.ID, Config: testConfig(), LockedBlocks: []string{"b"}})
	assert.True(t, model.IsCode(err, model.CodeInputInvalid), "got %v", err)

	fs, err := m.Forecasts(ctx)
	require.NoError(t, err)
	assert.Len(t, fs, 2)
}

// blockingRefiner parks the solve until it is cancelled.
type blockingRefiner struct{ entered chan struct{} }

func (r blockingRefiner) Refine(ctx context.Context, _ solver.RefineInput) (solver.RefineResult, error) {
	close(r.entered)
	<-ctx.Done()
	return solver.RefineResult{}, ctx.Err()
}

func TestCancel(t *testing.T) {
	r := blockingRefiner{entered: make(chan struct{})}
	m, _ := newManager(t, lifecycle.WithSolver(solver.New(solver.WithRefiner(r))))
	ctx := context.Background()

	f, err := m.Ingest(ctx, "test", minimalCover, monday)
	require.NoError(t, err)
	cfg := solver.DefaultConfig()
	p, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: cfg, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, model.PlanQueued, p.Status)

	select {
	case <-r.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("solve never reached refinement")
	}
	p, err = m.Cancel(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, p.Status)
	assert.Equal(t, "cancelled", p.FailureReason)

	_, err = m.Cancel(ctx, p.ID)
	assert.True(t, model.IsCode(err, model.CodeInvalidTransition), "got %v", err)
	_, err = m.Assignments(ctx, p.ID)
	assert.True(t, model.IsCode(err, model.CodeInvalidTransition), "got %v", err)

	evs := m.Events(p.ID, 0)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, model.PlanFailed, *last.Status)

	// A failed plan does not block a new attempt.
	cfg.Refine.Enabled = false
	again, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: cfg, Seed: 1})
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, again.ID)
	_, err = m.Wait(ctx, again.ID)
	require.NoError(t, err)
}

func TestEventsReplay(t *testing.T) {
	m, _ := newManager(t)
	p := solved(t, m, minimalCover, 1)

	evs := m.Events(p.ID, 0)
	require.NotEmpty(t, evs)
	for i, e := range evs {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, p.ID, e.PlanID)
	}
	assert.Equal(t, model.PlanQueued, *evs[0].Status)
	assert.True(t, evs[len(evs)-1].Terminal())

	var phases []model.Phase
	for _, e := range evs {
		if e.Kind == events.KindProgress {
			phases = append(phases, *e.Phase)
		}
	}
	require.NotEmpty(t, phases)
	assert.Equal(t, model.PhaseBlockBuild, phases[0])
	assert.Equal(t, model.PhaseQualityGate, phases[len(phases)-1])

	tail := m.Events(p.ID, 3)
	require.Len(t, tail, len(evs)-2)
	assert.Equal(t, int64(3), tail[0].Seq)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []events.Event
	for e := range m.Follow(ctx, p.ID, 2) {
		got = append(got, e)
		if e.Terminal() {
			break
		}
	}
	require.Len(t, got, len(evs)-1)
	assert.Equal(t, evs[1:], got)
}

func TestRepairFreezeWindowOverrideIsAudited(t *testing.T) {
	freeze := model.FreezeWindow{ThresholdMin: 720, Behavior: model.FreezeFrozen}
	m, _ := newManager(t, lifecycle.WithFreezeWindow(freeze))
	ctx := context.Background()

	p := solved(t, m, "Mo 06:00-12:00 2x\n", 1)
	_, err := m.Audit(ctx, p.ID)
	require.NoError(t, err)
	_, err = m.Lock(ctx, p.ID, "ops")
	require.NoError(t, err)
	as, err := m.Assignments(ctx, p.ID)
	require.NoError(t, err)

	req := lifecycle.RepairRequest{
		PlanID:     p.ID,
		Disruption: model.Disruption{Type: model.EventNoShow, DriverIDs: []string{as[0].DriverID}, Day: 1},
		Now:        monday.Add(5*time.Hour + 30*time.Minute),
	}
	_, err = m.Repair(ctx, req)
	assert.True(t, model.IsCode(err, model.CodeFreezeWindowViolation), "got %v", err)

	req.Disruption.Override = &model.Override{Actor: "ops-lead", Justification: "driver called in sick", Emergency: true}
	child, err := m.Repair(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.PlanSolved, child.Status)
	assert.Equal(t, p.ID, child.ParentID)
	assert.Equal(t, p.ForecastID, child.ForecastID)
	require.NotNil(t, child.Repair)
	require.NotNil(t, child.Repair.Override)
	assert.LessOrEqual(t, child.Repair.Churn.DriversChanged, 2)

	recs, err := m.AuditRecords(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.CheckFreezeWindow, recs[0].Check)
	assert.Equal(t, model.AuditOverride, recs[0].Status)
	assert.Equal(t, "ops-lead", recs[0].Actor)

	var related string
	for _, e := range m.Events(p.ID, 0) {
		if e.Kind == events.KindRepair {
			related = e.Related
		}
	}
	assert.Equal(t, child.ID, related)

	parent, err := m.Plan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanLocked, parent.Status)

	audited, err := m.Audit(ctx, child.ID)
	require.NoError(t, err)
	assert.Empty(t, model.FailingChecks(audited))
	_, err = m.Lock(ctx, child.ID, "ops")
	require.NoError(t, err)

	parent, err = m.Plan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanSuperseded, parent.Status)

	_, err = m.Repair(ctx, lifecycle.RepairRequest{PlanID: p.ID, Disruption: req.Disruption})
	assert.True(t, model.IsCode(err, model.CodeInvalidTransition), "superseded parent: %v", err)
}

func TestSolveWithLockedBlocks(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	base := solved(t, m, "Mo 06:00-12:00 2x\nDi 06:00-12:00\n", 1)
	as, err := m.Assignments(ctx, base.ID)
	require.NoError(t, err)
	pin := as[0]

	f, err := m.Ingest(ctx, "test", "Mo 06:00-12:00 2x\nDi 06:00-12:00\nMi 06:00-12:00\n", monday)
	require.NoError(t, err)
	p, err := m.Solve(ctx, lifecycle.SolveRequest{
		ForecastID:   f.ID,
		Config:       testConfig(),
		Seed:         1,
		BaseID:       base.ID,
		LockedBlocks: []string{pin.BlockID},
	})
	require.NoError(t, err)
	p, err = m.Wait(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanSolved, p.Status, p.FailureReason)
	assert.Equal(t, []string{pin.BlockID}, p.LockedBlocks)

	got, err := m.Assignments(ctx, p.ID)
	require.NoError(t, err)
	for _, a := range got {
		if a.Tour == pin.Tour {
			assert.Equal(t, pin.DriverID, a.DriverID)
			assert.Equal(t, pin.BlockID, a.BlockID)
		}
	}

	_, err = m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: testConfig(), BaseID: base.ID, LockedBlocks: []string{"nope"}})
	assert.True(t, model.IsCode(err, model.CodeInputInvalid), "got %v", err)
}

func TestSolveWithLockedMultiInstanceBlock(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	base := solved(t, m, "Mo 06:00-12:00 2x\nDi 06:00-12:00\n", 1)
	as, err := m.Assignments(ctx, base.ID)
	require.NoError(t, err)

	held := map[model.TourKey]string{}
	var block string
	for _, a := range as {
		if a.Day == 1 {
			held[a.Tour] = a.DriverID
			block = a.BlockID
		}
	}
	require.Len(t, held, 2)
	for _, a := range as {
		if a.Day == 1 {
			require.Equal(t, block, a.BlockID, "both instances share one block id")
		}
	}

	p, err := m.Solve(ctx, lifecycle.SolveRequest{
		ForecastID:   base.ForecastID,
		Config:       testConfig(),
		Seed:         2,
		BaseID:       base.ID,
		LockedBlocks: []string{block},
	})
	require.NoError(t, err)
	p, err = m.Wait(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanSolved, p.Status, p.FailureReason)

	got, err := m.Assignments(ctx, p.ID)
	require.NoError(t, err)
	kept := 0
	for _, a := range got {
		if drv, ok := held[a.Tour]; ok {
			assert.Equal(t, drv, a.DriverID, "tour %s", a.Tour)
			kept++
		}
	}
	assert.Equal(t, 2, kept)
}

func TestSolveDefaultsBaseToLockedPlan(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	first := solved(t, m, minimalCover, 1)
	assert.Empty(t, first.BaseID, "nothing locked yet")

	_, err := m.Audit(ctx, first.ID)
	require.NoError(t, err)
	_, err = m.Lock(ctx, first.ID, "ops")
	require.NoError(t, err)

	p, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: first.ForecastID, Config: testConfig(), Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, first.ID, p.BaseID)
	p, err = m.Wait(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanSolved, p.Status, p.FailureReason)

	again, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: first.ForecastID, Config: testConfig(), Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID, "implicit base takes part in deduplication")

	explicit, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: first.ForecastID, Config: testConfig(), Seed: 2, BaseID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, p.ID, explicit.ID)
}

// gateRefiner parks one refinement while armed, then lets it return
// without improvement.
type gateRefiner struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gateRefiner) Refine(ctx context.Context, _ solver.RefineInput) (solver.RefineResult, error) {
	if !g.armed.CompareAndSwap(true, false) {
		return solver.RefineResult{}, nil
	}
	close(g.entered)
	select {
	case <-g.release:
		return solver.RefineResult{}, nil
	case <-ctx.Done():
		return solver.RefineResult{}, ctx.Err()
	}
}

func TestAuditReproductionDoesNotBlockLock(t *testing.T) {
	gate := &gateRefiner{entered: make(chan struct{}), release: make(chan struct{})}
	m, _ := newManager(t, lifecycle.WithSolver(solver.New(solver.WithRefiner(gate))))
	ctx := context.Background()

	f, err := m.Ingest(ctx, "test", minimalCover, monday)
	require.NoError(t, err)
	a, err := m.Solve(ctx, lifecycle.SolveRequest{ForecastID: f.ID, Config: solver.DefaultConfig(), Seed: 1})
	require.NoError(t, err)
	a, err = m.Wait(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanSolved, a.Status, a.FailureReason)

	b := solved(t, m, "Di 06:00-08:00\nDi 08:30-10:30\nDi 11:00-13:00\n", 1)
	recs, err := m.Audit(ctx, b.ID)
	require.NoError(t, err)
	require.Empty(t, model.FailingChecks(recs))

	gate.armed.Store(true)
	type result struct {
		recs []model.AuditRecord
		err  error
	}
	audited := make(chan result, 1)
	go func() {
		recs, err := m.Audit(ctx, a.ID)
		audited <- result{recs, err}
	}()
	select {
	case <-gate.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("audit never reached refinement")
	}

	locked := make(chan error, 1)
	go func() {
		_, err := m.Lock(ctx, b.ID, "ops")
		locked <- err
	}()
	select {
	case err := <-locked:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(gate.release)
		t.Fatal("lock waited for another plan's audit")
	}

	close(gate.release)
	select {
	case r := <-audited:
		require.NoError(t, r.err)
		assert.Len(t, r.recs, len(model.AllChecks))
	case <-time.After(10 * time.Second):
		t.Fatal("audit did not finish")
	}
}

// refusingAudits fails to append freeze window records.
type refusingAudits struct{ *store.MemoryStore }

func (s refusingAudits) AppendAudit(ctx context.Context, recs []model.AuditRecord) ([]model.AuditRecord, error) {
	for _, r := range recs {
		if r.Check == model.CheckFreezeWindow {
			return nil, errors.New("audit trail unavailable")
		}
	}
	return s.MemoryStore.AppendAudit(ctx, recs)
}

func TestRepairFailsWhenOverrideCannotBeRecorded(t *testing.T) {
	st := refusingAudits{store.NewMemoryStore()}
	freeze := model.FreezeWindow{ThresholdMin: 720, Behavior: model.FreezeFrozen}
	m := lifecycle.New(st, lifecycle.WithFreezeWindow(freeze))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	p := solved(t, m, "Mo 06:00-12:00 2x\n", 1)
	as, err := m.Assignments(ctx, p.ID)
	require.NoError(t, err)

	_, err = m.Repair(ctx, lifecycle.RepairRequest{
		PlanID: p.ID,
		Disruption: model.Disruption{
			Type:      model.EventNoShow,
			DriverIDs: []string{as[0].DriverID},
			Day:       1,
			Override:  &model.Override{Actor: "ops-lead", Justification: "driver called in sick", Emergency: true},
		},
		Now: monday.Add(5*time.Hour + 30*time.Minute),
	})
	require.ErrorContains(t, err, "audit trail unavailable")

	ps, err := st.Plans(ctx, p.ForecastID)
	require.NoError(t, err)
	var children []model.PlanVersion
	for _, c := range ps {
		if c.ParentID == p.ID {
			children = append(children, c)
		}
	}
	require.Len(t, children, 1)
	assert.Equal(t, model.PlanFailed, children[0].Status)
	_, err = m.Assignments(ctx, children[0].ID)
	assert.Error(t, err, "a failed repair exposes no roster")
}

// countingCache records cache hits.
type countingCache struct {
	*forecast.MemoryDiffCache
	mu   sync.Mutex
	hits int
}

func (c *countingCache) Get(ctx context.Context, oldID, newID string) ([]model.DiffRecord, bool, error) {
	recs, ok, err := c.MemoryDiffCache.Get(ctx, oldID, newID)
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
	}
	return recs, ok, err
}

func TestDiff(t *testing.T) {
	cache := &countingCache{MemoryDiffCache: forecast.NewMemoryDiffCache()}
	m, _ := newManager(t, lifecycle.WithDiffCache(cache))
	ctx := context.Background()
	old, err := m.Ingest(ctx, "v1", "Mo 06:00-08:00\nMo 09:00-11:00\n", monday)
	require.NoError(t, err)
	cur, err := m.Ingest(ctx, "v2", "Mo 06:00-08:00 2x\nDi 06:00-08:00\n", monday)
	require.NoError(t, err)

	recs, err := m.Diff(ctx, old.ID, cur.ID)
	require.NoError(t, err)
	types := map[model.DiffType]int{}
	for _, r := range recs {
		types[r.Type]++
	}
	assert.Equal(t, map[model.DiffType]int{model.DiffAdded: 1, model.DiffRemoved: 1, model.DiffChanged: 1}, types)

	again, err := m.Diff(ctx, old.ID, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, recs, again)
	assert.Equal(t, 1, cache.hits)

	_, err = m.Diff(ctx, old.ID, "missing")
	assert.True(t, model.IsCode(err, model.CodeNotFound), "got %v", err)
}
