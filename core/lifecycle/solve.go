package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/kilianp07/roster/core/blocks"
	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/monitoring"
	"github.com/kilianp07/roster/core/solver"
)

// Ingest normalizes a forecast text and stores it as a new forecast version.
// Re-ingesting the same text under the same parser rules returns the
// existing version. A forecast that fails validation is stored so its line
// errors can be inspected, but it cannot be solved.
func (m *Manager) Ingest(ctx context.Context, source, text string, weekAnchor time.Time) (model.ForecastVersion, error) {
	content := forecast.ContentHash(text)
	ruleset := m.norm.RulesetHash()
	if f, ok, err := m.store.ForecastByHash(ctx, content, ruleset); err != nil {
		return model.ForecastVersion{}, err
	} else if ok {
		m.log.Debugf("forecast %s already ingested from %s", f.ID, f.Source)
		return f, nil
	}
	res := m.norm.Normalize(text)
	f := model.ForecastVersion{
		ID:          m.newID(),
		Source:      source,
		ContentHash: content,
		RulesetHash: ruleset,
		Status:      res.Status,
		WeekAnchor:  weekAnchor.UTC(),
		CreatedAt:   m.now().UTC(),
		Lines:       res.Lines,
		Tours:       res.Tours,
	}
	if err := m.store.PutForecast(ctx, f); err != nil {
		return model.ForecastVersion{}, err
	}
	m.log.Infof("ingested forecast %s from %s: %s, %d tours, %d failed lines",
		f.ID, source, f.Status, len(f.Tours), len(res.Failed()))
	return f, nil
}

// SolveRequest asks for a plan of one forecast version.
type SolveRequest struct {
	ForecastID string        `json:"forecast_id"`
	Config     solver.Config `json:"config"`
	Seed       int64         `json:"seed"`
	// LockedBlocks pins blocks of the base plan unchanged.
	LockedBlocks []string `json:"locked_block_ids,omitempty"`
	// BaseID names a plan whose roster drives driver naming and churn
	// tie-breaks. It is required when LockedBlocks is set. Empty means the
	// forecast's LOCKED plan, if it has one.
	BaseID string `json:"base_id,omitempty"`
}

// Solve queues a solve and returns the QUEUED plan immediately. The solve
// runs in the background; use Wait, Events or Follow to observe it. A
// request identical to an earlier one that did not fail returns the earlier
// plan instead of solving again.
func (m *Manager) Solve(ctx context.Context, req SolveRequest) (model.PlanVersion, error) {
	f, err := m.store.Forecast(ctx, req.ForecastID)
	if err != nil {
		return model.PlanVersion{}, err
	}
	if !f.Solvable() {
		return model.PlanVersion{}, model.Errorf(model.CodeForecastNotSolvable, "forecast %s failed validation", f.ID).
			WithDetail("forecast_id", f.ID)
	}
	cfg := req.Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return model.PlanVersion{}, err
	}
	locked := slices.Clone(req.LockedBlocks)
	sort.Strings(locked)
	locked = slices.Compact(locked)
	if len(locked) > 0 && req.BaseID == "" {
		return model.PlanVersion{}, model.Errorf(model.CodeInputInvalid, "locked blocks need a base plan")
	}

	baseID := req.BaseID
	if baseID == "" {
		if lp, ok, err := m.lockedPlan(ctx, f.ID); err != nil {
			return model.PlanVersion{}, err
		} else if ok {
			baseID = lp.ID
		}
	}

	in := solver.Input{Tours: f.Tours, Seed: req.Seed}
	if baseID != "" {
		base, err := m.Assignments(ctx, baseID)
		if err != nil {
			return model.PlanVersion{}, err
		}
		in.Previous = base
		if in.Pinned, err = pinsFrom(cfg, f.Tours, base, locked); err != nil {
			return model.PlanVersion{}, err
		}
	}

	m.solveMu.Lock()
	defer m.solveMu.Unlock()
	hash := cfg.Hash()
	if prev, ok, err := m.store.FindPlan(ctx, f.ID, hash, req.Seed); err != nil {
		return model.PlanVersion{}, err
	} else if ok && prev.Status != model.PlanFailed && prev.BaseID == baseID && slices.Equal(prev.LockedBlocks, locked) {
		m.log.Debugf("solve of forecast %s with seed %d already answered by plan %s", f.ID, req.Seed, prev.ID)
		return prev, nil
	}

	now := m.now().UTC()
	p := model.PlanVersion{
		ID:           m.newID(),
		ForecastID:   f.ID,
		BaseID:       baseID,
		LockedBlocks: locked,
		Seed:         req.Seed,
		ConfigHash:   hash,
		Config:       cfg.Encode(),
		Status:       model.PlanQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreatePlan(ctx, p); err != nil {
		return model.PlanVersion{}, err
	}
	m.emit(events.Status(p.ID, model.PlanQueued, "queued"))

	tctx, cancel := context.WithCancel(m.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[p.ID] = t
	m.mu.Unlock()
	m.wg.Add(1)
	go m.run(tctx, t, p, cfg, in)
	m.log.Infof("queued plan %s for forecast %s (seed %d)", p.ID, f.ID, req.Seed)
	return p, nil
}

// run executes one solve task.
func (m *Manager) run(ctx context.Context, t *task, p model.PlanVersion, cfg solver.Config, in solver.Input) {
	defer m.wg.Done()
	defer func() {
		t.cancel()
		m.mu.Lock()
		delete(m.running, p.ID)
		m.mu.Unlock()
		close(t.done)
	}()
	// Store writes outlive a cancellation so the FAILED state is recorded.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			m.fail(bg, &p, monitoring.PanicError(r))
		}
	}()
	started := m.now()

	if err := m.setStatus(bg, &p, model.PlanSolving, "solving"); err != nil {
		m.log.Errorf("plan %s: %v", p.ID, err)
		return
	}
	in.Progress = func(pr solver.Progress) {
		m.emit(events.Progress(p.ID, pr.Phase, pr.Metrics, pr.LowerBound))
	}
	res, err := m.solver.Solve(ctx, cfg, in)
	if err == nil {
		err = m.commit(bg, &p, res)
	}
	if err != nil {
		m.fail(bg, &p, err)
		m.record(p, 0, m.now().Sub(started))
		return
	}
	m.record(p, res.LowerBound, m.now().Sub(started))
}

// commit persists a solver result on a SOLVING plan.
func (m *Manager) commit(ctx context.Context, p *model.PlanVersion, res *solver.Result) error {
	next := *p
	next.Status = model.PlanSolved
	next.OutputHash = res.OutputHash
	next.Gaps = res.Gaps
	next.KPIs = res.KPIs
	next.Uncovered = res.Uncovered
	next.Rounds = res.Rounds
	next.Replay = res.Replay
	next.UpdatedAt = m.now().UTC()
	if err := m.store.CommitPlan(ctx, next, res.Assignments); err != nil {
		return err
	}
	*p = next
	msg := fmt.Sprintf("solved: %d drivers, %d uncovered", res.KPIs.DriversTotal, res.KPIs.Uncovered)
	m.emit(events.Status(p.ID, model.PlanSolved, msg))
	m.log.Infof("plan %s %s", p.ID, msg)
	return nil
}

// fail moves a plan to FAILED.
func (m *Manager) fail(ctx context.Context, p *model.PlanVersion, cause error) {
	reason := cause.Error()
	if solver.IsCancelled(cause) {
		reason = "cancelled"
	} else {
		monitoring.CaptureException(cause, map[string]string{
			"component":   "solve",
			"plan_id":     p.ID,
			"forecast_id": p.ForecastID,
		})
	}
	next := *p
	next.Status = model.PlanFailed
	next.FailureReason = reason
	next.UpdatedAt = m.now().UTC()
	if err := m.store.UpdatePlan(ctx, next); err != nil {
		m.log.Errorf("plan %s could not be marked failed: %v", p.ID, err)
		return
	}
	*p = next
	m.emit(events.Status(p.ID, model.PlanFailed, reason))
	m.log.Warnf("plan %s failed: %s", p.ID, reason)
}

func (m *Manager) record(p model.PlanVersion, lowerBound int, d time.Duration) {
	err := m.sink.RecordSolveResult(metrics.SolveResult{
		PlanID:     p.ID,
		ForecastID: p.ForecastID,
		Status:     p.Status,
		KPIs:       p.KPIs,
		Rounds:     p.Replay.Rounds,
		LowerBound: lowerBound,
		Duration:   d,
		Time:       m.now().UTC(),
	})
	if err != nil {
		m.log.Warnf("metrics: solve result of plan %s: %v", p.ID, err)
	}
}

// Wait blocks until the plan's solve finished or ctx is done and returns
// the plan's current state.
func (m *Manager) Wait(ctx context.Context, planID string) (model.PlanVersion, error) {
	m.mu.Lock()
	t := m.running[planID]
	m.mu.Unlock()
	if t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return model.PlanVersion{}, model.Errorf(model.CodeCancelled, "waiting for plan %s", planID).Wrap(ctx.Err())
		}
	}
	return m.store.Plan(ctx, planID)
}

// Cancel stops a queued or running solve. The plan ends FAILED with reason
// "cancelled". Cancelling a finished plan is an INVALID_TRANSITION.
func (m *Manager) Cancel(ctx context.Context, planID string) (model.PlanVersion, error) {
	m.mu.Lock()
	t := m.running[planID]
	m.mu.Unlock()
	if t == nil {
		p, err := m.store.Plan(ctx, planID)
		if err != nil {
			return model.PlanVersion{}, err
		}
		return model.PlanVersion{}, model.Errorf(model.CodeInvalidTransition, "plan %s is %s and cannot be cancelled", planID, p.Status).
			WithDetail("plan_id", planID).
			WithDetail("status", p.Status.String())
	}
	t.cancel()
	return m.Wait(ctx, planID)
}

// lockedPlan returns the LOCKED plan of a forecast, if any.
func (m *Manager) lockedPlan(ctx context.Context, forecastID string) (model.PlanVersion, bool, error) {
	ps, err := m.store.Plans(ctx, forecastID)
	if err != nil {
		return model.PlanVersion{}, false, err
	}
	for _, p := range ps {
		if p.Status == model.PlanLocked {
			return p, true, nil
		}
	}
	return model.PlanVersion{}, false, nil
}

// pinsFrom rebuilds the locked blocks of a base roster as pinned columns.
// A block id shared by several drivers (a multi-instance tour) yields one
// pin per driver.
func pinsFrom(cfg solver.Config, tours []model.NormalizedTour, base []model.Assignment, ids []string) ([]solver.Pinned, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	type holding struct {
		driver string
		keys   []model.TourKey
	}
	found := make(map[string][]*holding)
	for _, a := range base {
		if !want[a.BlockID] {
			continue
		}
		hs := found[a.BlockID]
		i := slices.IndexFunc(hs, func(h *holding) bool { return h.driver == a.DriverID })
		if i < 0 {
			hs = append(hs, &holding{driver: a.DriverID})
			i = len(hs) - 1
			found[a.BlockID] = hs
		}
		hs[i].keys = append(hs[i].keys, a.Tour)
	}
	b := blocks.New(cfg.Rules, tours)
	out := make([]solver.Pinned, 0, len(ids))
	for _, id := range ids {
		hs := found[id]
		if len(hs) == 0 {
			return nil, model.Errorf(model.CodeInputInvalid, "locked block %s is not part of the base plan", id).
				WithDetail("block_id", id)
		}
		sort.Slice(hs, func(i, j int) bool { return hs[i].driver < hs[j].driver })
		for _, h := range hs {
			fps := make([]string, len(h.keys))
			byFP := make(map[string]model.TourKey, len(h.keys))
			for i, k := range h.keys {
				fps[i] = k.Fingerprint
				byFP[k.Fingerprint] = k
			}
			blk, err := b.Make(fps)
			if err != nil {
				return nil, model.Errorf(model.CodeInputInvalid, "locked block %s does not fit the forecast", id).
					WithDetail("block_id", id).
					WithDetail("driver_id", h.driver).Wrap(err)
			}
			keys := make([]model.TourKey, len(blk.Tours))
			for i, fp := range blk.Tours {
				keys[i] = byFP[fp]
			}
			out = append(out, solver.Pinned{DriverID: h.driver, Block: blk, Keys: keys})
		}
	}
	return out, nil
}
