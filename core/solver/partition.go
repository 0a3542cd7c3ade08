package solver

import (
	"math"
	"sort"
)

// partition turns the LP relaxation into an integer set partition: every
// demanded instance is covered by exactly one selected column. Columns may be
// selected several times for tours with several instances. cand maps LP
// variable indexes to pool indexes; x may be nil when the LP was skipped.
func partition(prob *Problem, pool *Pool, cand []int, x []float64) []int {
	remaining := make(map[string]int, len(prob.Demand))
	for fp, n := range prob.Demand {
		remaining[fp] = n
	}
	var sel []int
	room := func(j int) int {
		k := math.MaxInt
		for _, fp := range pool.Col(j).Block.Tours {
			if remaining[fp] < k {
				k = remaining[fp]
			}
		}
		return k
	}
	take := func(j, k int) {
		for _, fp := range pool.Col(j).Block.Tours {
			remaining[fp] -= k
		}
		for ; k > 0; k-- {
			sel = append(sel, j)
		}
	}

	if x != nil {
		order := make([]int, 0, len(cand))
		for v := range cand {
			if x[v] >= 0.5 {
				order = append(order, v)
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			if x[order[a]] != x[order[b]] {
				return x[order[a]] > x[order[b]]
			}
			return pool.less(cand[order[a]], cand[order[b]])
		})
		for _, v := range order {
			j := cand[v]
			want := int(math.Floor(x[v] + 0.5))
			if k := min(want, room(j)); k > 0 {
				take(j, k)
			}
		}
	}
	for _, j := range pool.Ranked() {
		if k := room(j); k > 0 {
			take(j, k)
		}
	}
	sel = merge(pool, sel)
	sort.Ints(sel)
	return sel
}

// merge replaces groups of selected columns by a single pool column covering
// exactly the same tours when that column is cheaper.
func merge(pool *Pool, sel []int) []int {
	for _, j := range pool.Ranked() {
		col := pool.Col(j)
		if len(col.Block.Tours) < 2 {
			continue
		}
		for {
			picks, ok := decompose(pool, sel, j)
			if !ok {
				break
			}
			cost := 0.0
			for _, q := range picks {
				cost += pool.Col(sel[q]).Cost
			}
			if cost <= col.Cost+1e-12 {
				break
			}
			drop := make(map[int]bool, len(picks))
			for _, q := range picks {
				drop[q] = true
			}
			next := sel[:0:0]
			for q, v := range sel {
				if !drop[q] {
					next = append(next, v)
				}
			}
			sel = append(next, j)
		}
	}
	return sel
}

// decompose finds selected positions whose columns are disjoint subsets of
// column j and together cover it exactly. A column equal to j does not count.
func decompose(pool *Pool, sel []int, j int) ([]int, bool) {
	target := pool.Col(j).Block.Tours
	in := make(map[string]bool, len(target))
	for _, fp := range target {
		in[fp] = true
	}
	done := make(map[string]bool, len(target))
	used := make(map[int]bool)
	var picks []int
	for _, fp := range target {
		if done[fp] {
			continue
		}
		found := false
		for q, v := range sel {
			if used[q] || v == j {
				continue
			}
			tours := pool.Col(v).Block.Tours
			if !subsetFree(tours, in, done) || !has(tours, fp) {
				continue
			}
			for _, t := range tours {
				done[t] = true
			}
			used[q] = true
			picks = append(picks, q)
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	return picks, true
}

func subsetFree(tours []string, in, done map[string]bool) bool {
	for _, t := range tours {
		if !in[t] || done[t] {
			return false
		}
	}
	return true
}

func has(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
