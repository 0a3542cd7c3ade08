package solver

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/roster/core/model"
)

// reducedCostTol is the threshold below which a column improves the
// relaxation.
const reducedCostTol = -1e-9

// pricingOrder lists demanded tours with the poorly covered ones first. A
// tour is poorly covered when no good column contains it.
func pricingOrder(prob *Problem, pool *Pool) []string {
	var poor, rest []string
	for _, fp := range prob.Targets {
		good := false
		for _, i := range pool.Covering(fp) {
			if pool.Col(i).Good {
				good = true
				break
			}
		}
		if good {
			rest = append(rest, fp)
		} else {
			poor = append(poor, fp)
		}
	}
	return append(poor, rest...)
}

// price generates new columns with negative reduced cost. Each tour is
// priced in its own goroutine under the worker limit; results are merged in
// tour order so the pool grows identically regardless of scheduling.
func price(ctx context.Context, prob *Problem, pool *Pool, duals map[string]float64) ([]model.Block, error) {
	order := pricingOrder(prob, pool)
	found := make([][]model.Block, len(order))
	limit := prob.Config.MaxColumnsPerTour

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prob.Config.Workers)
	for i, fp := range order {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var out []model.Block
			for _, b := range prob.Builder.Containing(fp, 4*limit) {
				if pool.Has(b.ID) || !prob.Usable(b) {
					continue
				}
				rc := prob.Cost(b)
				for _, t := range b.Tours {
					rc -= duals[t]
				}
				if rc < reducedCostTol {
					out = append(out, b)
					if len(out) == limit {
						break
					}
				}
			}
			found[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var merged []model.Block
	for _, bs := range found {
		for _, b := range bs {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			merged = append(merged, b)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged, nil
}
