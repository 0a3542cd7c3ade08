// Package solver selects work blocks covering every tour instance by column
// generation over a set-partitioning master problem and packs the selected
// blocks into weekly drivers.
//
// A solve runs in rounds. Each round solves the LP relaxation of the
// restricted master problem over the current column pool, rounds it to an
// integer partition, packs that partition into drivers and then prices new
// columns from the LP duals. Rounds are strictly sequential; pricing within
// a round runs in parallel. All state of a solve is private to it.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/model"
)

// Progress is reported after each phase and each round.
type Progress struct {
	Phase      model.Phase
	Metrics    model.RoundMetrics
	LowerBound int
}

// RefineInput is handed to a Refiner after the rounds finished.
type RefineInput struct {
	Problem *Problem
	Pool    *Pool
	Roster  *Roster
	// Iterations bounds the local search.
	Iterations int
	// Deadline stops the local search between iterations. Zero means none.
	Deadline time.Time
	Now      func() time.Time
}

// RefineResult is the outcome of a refinement. Roster is nil when nothing
// better was found.
type RefineResult struct {
	Roster     *Roster
	Iterations int
}

// Refiner improves an incumbent roster. Implementations must be
// deterministic for a given input.
type Refiner interface {
	Refine(ctx context.Context, in RefineInput) (RefineResult, error)
}

// Option configures a Solver.
type Option func(*Solver)

// WithRefiner enables the refinement pass.
func WithRefiner(r Refiner) Option { return func(s *Solver) { s.refiner = r } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(s *Solver) { s.log = l } }

// WithClock overrides the wall clock used for the time budget.
func WithClock(now func() time.Time) Option { return func(s *Solver) { s.now = now } }

// Solver runs solves. It holds no per-solve state and is safe for
// concurrent use.
type Solver struct {
	refiner Refiner
	log     logger.Logger
	now     func() time.Time
}

// New creates a Solver.
func New(opts ...Option) *Solver {
	s := &Solver{log: logger.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// roundState is the value threaded through the rounds of one solve.
type roundState struct {
	round     int
	pool      *Pool
	roster    *Roster
	score     Score
	quality   float64
	stable    int
	best      *Roster
	bestScore Score
	metrics   []model.RoundMetrics
	truncated bool
}

// lpPenalty prices an uncovered instance in the relaxation.
const lpPenalty = 100

// Solve computes a roster. Configuration errors are returned before any work
// starts; a context cancellation returns a CANCELLED error and no result.
func (s *Solver) Solve(ctx context.Context, cfg Config, in Input) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	started := s.now()
	res, err := s.solve(ctx, cfg, in, started)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Gaps:
		outcome = "gaps"
	}
	solveDuration.WithLabelValues(outcome).Observe(s.now().Sub(started).Seconds())
	return res, err
}

func (s *Solver) solve(ctx context.Context, cfg Config, in Input, started time.Time) (*Result, error) {
	emit := in.Progress
	if emit == nil {
		emit = func(Progress) {}
	}
	bounded := in.Replay != nil
	deadline := started.Add(cfg.Budget())

	prob, err := NewProblem(cfg, in)
	if err != nil {
		return nil, err
	}
	pool := SeedPool(prob)
	emit(Progress{Phase: model.PhaseBlockBuild, Metrics: model.RoundMetrics{
		PoolSize:       pool.Len(),
		PoolQualityPct: pool.Quality(prob),
	}})
	s.log.Debugf("seeded pool with %d columns for %d demanded tours", pool.Len(), len(prob.Targets))

	lb := LowerBound(cfg, in.Tours)
	emit(Progress{Phase: model.PhaseCapacity, LowerBound: lb, Metrics: model.RoundMetrics{DriversTotal: lb}})

	st := roundState{pool: pool}
	for {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		next, done, err := s.round(ctx, prob, st, in.Replay)
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx.Err())
			}
			return nil, err
		}
		st = next
		emit(Progress{Phase: model.PhaseSetPartition, LowerBound: lb, Metrics: st.metrics[len(st.metrics)-1]})
		if done {
			break
		}
		if !bounded && !s.now().Before(deadline) {
			st.truncated = true
			s.log.Warnf("time budget of %s exhausted after round %d", cfg.Budget(), st.round)
			break
		}
	}

	best := st.best
	replay := model.Replay{Rounds: st.round, Truncated: st.truncated}
	if s.refiner != nil && cfg.Refine.Enabled && prob.Instances() <= cfg.Refine.MaxTours {
		ri := RefineInput{Problem: prob, Pool: st.pool, Roster: best, Iterations: cfg.Refine.LNSIterations, Now: s.now}
		if bounded {
			ri.Iterations = in.Replay.LNSIterations
		} else {
			ri.Deadline = deadline
		}
		rr, err := s.refiner.Refine(ctx, ri)
		switch {
		case ctx.Err() != nil:
			return nil, cancelled(ctx.Err())
		case err != nil:
			s.log.Warnf("refinement failed, keeping incumbent: %v", err)
		default:
			replay.LNSIterations = rr.Iterations
			if rr.Roster != nil && rr.Roster.Score().Better(best.Score()) {
				best = rr.Roster
				refineGains.Inc()
			}
		}
		if !bounded && ri.Iterations > replay.LNSIterations {
			replay.Truncated = true
		}
	}
	final := metricsOf(st.round, st.pool, prob, best)
	emit(Progress{Phase: model.PhaseRepair, LowerBound: lb, Metrics: final})

	as := best.Export(in.Previous)
	uncovered := uncoveredKeys(best)
	kpis := best.KPIs(prob.Instances())
	emit(Progress{Phase: model.PhaseExport, LowerBound: lb, Metrics: final})

	if err := CheckConservation(in.Tours, as, uncovered); err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}
	emit(Progress{Phase: model.PhaseQualityGate, LowerBound: lb, Metrics: final})

	res := &Result{
		Assignments: as,
		KPIs:        kpis,
		Uncovered:   uncovered,
		Rounds:      st.metrics,
		Replay:      replay,
		LowerBound:  lb,
		Gaps:        len(uncovered) > 0,
	}
	res.OutputHash = OutputHash(as, kpis, uncovered)
	s.log.Infof("solve finished: %d drivers, %d uncovered, %d rounds", kpis.DriversTotal, kpis.Uncovered, st.round)
	return res, nil
}

func cancelled(err error) error {
	return model.Errorf(model.CodeCancelled, "solve cancelled").Wrap(err)
}

// SeedPool fills a fresh pool with every feasible block when the instance is
// small and with the builder's seed columns otherwise.
func SeedPool(prob *Problem) *Pool {
	pool := NewPool()
	limit := prob.Config.FullEnumerationLimit
	var seed []model.Block
	if prob.Builder.Count(limit+1) <= limit {
		seed = prob.Builder.All()
	} else {
		seed = prob.Builder.Seed()
	}
	for _, b := range seed {
		pool.Add(prob, b)
	}
	// Every demanded tour needs at least its single.
	for _, fp := range prob.Targets {
		if len(pool.Covering(fp)) == 0 {
			if b, err := prob.Builder.Make([]string{fp}); err == nil {
				pool.Add(prob, b)
			}
		}
	}
	return pool
}

// round runs one master solve, packs the incumbent and prices new columns.
func (s *Solver) round(ctx context.Context, prob *Problem, st roundState, replay *model.Replay) (roundState, bool, error) {
	st.round++
	roundsTotal.Inc()
	cand, x, duals, lpErr := relax(prob, st.pool)
	if lpErr != nil {
		lpFallbacks.Inc()
		s.log.Debugf("round %d: heuristic duals: %v", st.round, lpErr)
	}
	sel := partition(prob, st.pool, cand, x)
	picked := make([]model.Block, len(sel))
	for i, j := range sel {
		picked[i] = st.pool.Col(j).Block
	}
	r, err := prob.Assemble(picked)
	if err != nil {
		return st, false, err
	}
	score := r.Score()
	quality := st.pool.Quality(prob)
	if st.round > 1 && score == st.score && math.Abs(quality-st.quality) < 1e-9 {
		st.stable++
	} else {
		st.stable = 0
	}
	st.roster, st.score, st.quality = r, score, quality
	if st.best == nil || score.Better(st.bestScore) {
		st.best, st.bestScore = r, score
	}
	m := metricsOf(st.round, st.pool, prob, r)
	st.metrics = append(append([]model.RoundMetrics(nil), st.metrics...), m)
	poolSize.Set(float64(st.pool.Len()))
	s.log.Debugw("round finished", map[string]any{
		"round":     m.Round,
		"pool_size": m.PoolSize,
		"drivers":   m.DriversTotal,
		"uncovered": m.Uncovered,
		"quality":   m.PoolQualityPct,
	})

	cfg := prob.Config
	switch {
	case replay != nil && st.round >= replay.Rounds:
		return st, true, nil
	case st.round >= cfg.MaxRounds:
		return st, true, nil
	case st.stable >= cfg.StableRounds && score.Uncovered == len(prob.base.Uncovered):
		return st, true, nil
	}
	cols, err := price(ctx, prob, st.pool, duals)
	if err != nil {
		return st, false, err
	}
	added := 0
	for _, b := range cols {
		if st.pool.Add(prob, b) {
			added++
		}
	}
	return st, added == 0, nil
}

func metricsOf(round int, pool *Pool, prob *Problem, r *Roster) model.RoundMetrics {
	k := r.KPIs(prob.Instances())
	return model.RoundMetrics{
		Round:          round,
		PoolSize:       pool.Len(),
		DriversTotal:   k.DriversTotal,
		DriversFTE:     k.DriversFTE,
		DriversPT:      k.DriversPT(),
		Uncovered:      k.Uncovered,
		PoolQualityPct: pool.Quality(prob),
	}
}

// relax solves the relaxation over a bounded column subset and returns the
// candidate columns, their fractional values and the tour duals. When the
// LP cannot be used x is nil and the duals are heuristic.
func relax(prob *Problem, pool *Pool) ([]int, []float64, map[string]float64, error) {
	cand := lpColumns(prob, pool)
	row := make(map[string]int, len(prob.Targets))
	p := rmp{penalty: lpPenalty}
	for r, fp := range prob.Targets {
		row[fp] = r
		p.demand = append(p.demand, float64(prob.Demand[fp]))
	}
	for _, j := range cand {
		col := pool.Col(j)
		rs := make([]int, len(col.Block.Tours))
		for i, fp := range col.Block.Tours {
			rs[i] = row[fp]
		}
		p.costs = append(p.costs, col.Cost)
		p.rows = append(p.rows, rs)
	}

	var (
		sol rmpSolution
		err error
	)
	if len(p.demand) > prob.Config.LPMaxRows {
		err = errLPTooLarge
	} else {
		sol, err = lpSolve(p)
	}
	var y []float64
	if err != nil {
		y = costShare(p)
		sol.x = nil
	} else {
		y = sol.duals
	}
	duals := make(map[string]float64, len(y))
	for r, fp := range prob.Targets {
		duals[fp] = y[r]
	}
	return cand, sol.x, duals, err
}

// lpColumns picks the best ranked columns up to the LP size limit and adds
// the best column of every tour left without one.
func lpColumns(prob *Problem, pool *Pool) []int {
	ranked := pool.Ranked()
	n := min(len(ranked), prob.Config.LPMaxColumns)
	in := make(map[int]bool, n)
	cand := append([]int(nil), ranked[:n]...)
	for _, j := range cand {
		in[j] = true
	}
	for _, fp := range prob.Targets {
		cover := pool.Covering(fp)
		found := false
		for _, j := range cover {
			if in[j] {
				found = true
				break
			}
		}
		if found || len(cover) == 0 {
			continue
		}
		best := cover[0]
		for _, j := range cover[1:] {
			if pool.less(j, best) {
				best = j
			}
		}
		in[best] = true
		cand = append(cand, best)
	}
	sort.Ints(cand)
	return cand
}

// LowerBound is the capacity phase estimate of the driver count: the peak
// number of concurrent tour instances on any day, and the total work over
// the weekly ceiling.
func LowerBound(cfg Config, tours []model.NormalizedTour) int {
	type ev struct{ at, delta int }
	days := make(map[int][]ev)
	work := 0
	for _, t := range tours {
		days[t.Day] = append(days[t.Day], ev{t.StartMin, t.Count}, ev{t.EndMin, -t.Count})
		work += t.Duration() * t.Count
	}
	peak := 0
	for _, evs := range days {
		sort.Slice(evs, func(i, j int) bool {
			if evs[i].at != evs[j].at {
				return evs[i].at < evs[j].at
			}
			return evs[i].delta < evs[j].delta
		})
		cur := 0
		for _, e := range evs {
			cur += e.delta
			peak = max(peak, cur)
		}
	}
	if c := cfg.Rules.WeeklyCeiling; c > 0 {
		peak = max(peak, (work+c-1)/c)
	}
	return peak
}

// IsCancelled reports whether err came from a cancelled solve.
func IsCancelled(err error) bool {
	return model.IsCode(err, model.CodeCancelled) || errors.Is(err, context.Canceled)
}
