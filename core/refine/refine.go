// Package refine improves a solver incumbent. Small days are re-solved
// exactly by branch-and-bound; the whole roster then goes through a bounded
// large-neighbourhood search that destroys a few drivers and re-packs their
// work. Every candidate is checked by the audit hard-constraint validator and
// only strictly better rosters are kept.
package refine

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/roster/core/audit"
	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
)

// Refiner implements solver.Refiner.
type Refiner struct {
	log logger.Logger
}

// New returns a Refiner.
func New(log logger.Logger) *Refiner {
	if log == nil {
		log = logger.Nop()
	}
	return &Refiner{log: log}
}

var _ solver.Refiner = (*Refiner)(nil)

// Stats describe one refinement.
type Stats struct {
	ExactDays     int
	ExactImproved bool
	Iterations    int
	Accepted      int
}

// Refine runs the exact pass and then the local search.
func (r *Refiner) Refine(ctx context.Context, in solver.RefineInput) (solver.RefineResult, error) {
	best, stats, err := r.run(ctx, in)
	if err != nil {
		return solver.RefineResult{}, err
	}
	r.log.Debugw("refinement finished", map[string]any{
		"exact_days":     stats.ExactDays,
		"exact_improved": stats.ExactImproved,
		"iterations":     stats.Iterations,
		"accepted":       stats.Accepted,
	})
	res := solver.RefineResult{Iterations: stats.Iterations}
	if best != in.Roster {
		res.Roster = best
	}
	return res, nil
}

func (r *Refiner) run(ctx context.Context, in solver.RefineInput) (*solver.Roster, Stats, error) {
	var stats Stats
	best := in.Roster
	cand, days, err := exact(ctx, in.Problem, best)
	if err != nil {
		return nil, stats, err
	}
	stats.ExactDays = days
	if cand != nil && r.accept(in.Problem, best, cand) {
		best = cand
		stats.ExactImproved = true
	}

	now := in.Now
	if now == nil {
		now = time.Now
	}
	weights := [2]float64{1, 1}
	for it := 0; it < in.Iterations; it++ {
		if !in.Deadline.IsZero() && !now().Before(in.Deadline) {
			break
		}
		cands, ops, err := r.neighbourhoods(ctx, in.Problem, in.Pool, best, it, weights)
		if err != nil {
			return nil, stats, err
		}
		stats.Iterations++
		pick := -1
		for k, c := range cands {
			if c == nil || !r.accept(in.Problem, best, c) {
				continue
			}
			if pick < 0 || c.Score().Better(cands[pick].Score()) {
				pick = k
			}
		}
		if pick >= 0 {
			best = cands[pick]
			stats.Accepted++
			weights[ops[pick]] += 0.5
		}
	}
	return best, stats, nil
}

// accept reports whether cand is strictly better than cur and passes the
// hard-constraint validation.
func (r *Refiner) accept(prob *solver.Problem, cur, cand *solver.Roster) bool {
	if !cand.Score().Better(cur.Score()) {
		return false
	}
	as := cand.Export(nil)
	uncovered := append([]model.TourKey(nil), cand.Uncovered...)
	for _, i := range cand.Unplaced() {
		uncovered = append(uncovered, cand.Instances[i].Keys...)
	}
	v := audit.Validate(audit.Input{
		Plan:        model.PlanVersion{Uncovered: uncovered},
		Tours:       prob.Builder.Tours(),
		Assignments: as,
		Rules:       prob.Config.Rules,
	})
	if len(v) > 0 {
		r.log.Warnf("discarding refinement candidate: %d violations, first %s", len(v), v[0].Rule)
		return false
	}
	return true
}

// exact re-solves every small day to optimality in parallel and assembles
// the combined selection. It returns nil when no day improved.
func exact(ctx context.Context, prob *solver.Problem, cur *solver.Roster) (*solver.Roster, int, error) {
	cfg := prob.Config.Refine
	perDay := make(map[int][]model.Block)
	for _, b := range solver.Selection(cur) {
		perDay[b.Day] = append(perDay[b.Day], b)
	}
	var days []int
	for d, bs := range perDay {
		n := 0
		for _, b := range bs {
			n += len(b.Tours)
		}
		if n <= cfg.ExactMaxTours {
			days = append(days, d)
		}
	}
	sort.Ints(days)
	if len(days) == 0 {
		return nil, 0, nil
	}

	found := make([][]model.Block, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prob.Config.Workers)
	for i, d := range days {
		g.Go(func() error {
			demand := make(map[string]int)
			upper := 0.0
			for _, b := range perDay[d] {
				upper += prob.Cost(b)
				for _, fp := range b.Tours {
					demand[fp]++
				}
			}
			blocks, err := newDayEngine(gctx, prob, demand, upper, cfg.ExactNodeLimit).solve()
			found[i] = blocks
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, len(days), err
	}

	improved := false
	for i, d := range days {
		if found[i] != nil {
			perDay[d] = found[i]
			improved = true
		}
	}
	if !improved {
		return nil, len(days), nil
	}
	all := make([]int, 0, len(perDay))
	for d := range perDay {
		all = append(all, d)
	}
	sort.Ints(all)
	var sel []model.Block
	for _, d := range all {
		sel = append(sel, perDay[d]...)
	}
	cand, err := prob.Assemble(sel)
	if err != nil {
		return nil, len(days), err
	}
	return cand, len(days), nil
}

// neighbourhoods builds the candidates of one iteration concurrently. Each
// candidate draws from its own generator seeded by (seed, iteration, index)
// so the outcome does not depend on scheduling.
func (r *Refiner) neighbourhoods(ctx context.Context, prob *solver.Problem, pool *solver.Pool, cur *solver.Roster, it int, weights [2]float64) ([]*solver.Roster, []int, error) {
	n := prob.Config.Refine.Neighborhoods
	cands := make([]*solver.Roster, n)
	ops := make([]int, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prob.Config.Workers)
	for k := 0; k < n; k++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(mix(prob.Seed, it, k)))
			op := roulette(weights, rng)
			ops[k] = op
			c, err := destroyRepair(prob, pool, cur, op, rng)
			if err != nil && !errors.Is(err, errNoMove) {
				return err
			}
			cands[k] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return cands, ops, nil
}

func mix(seed int64, it, k int) int64 {
	h := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(it+1)*0xBF58476D1CE4E5B9 ^ uint64(k+1)*0x94D049BB133111EB
	h ^= h >> 31
	return int64(h)
}

func roulette(w [2]float64, rng *rand.Rand) int {
	if rng.Float64()*(w[0]+w[1]) < w[0] {
		return opRandom
	}
	return opWeakest
}
