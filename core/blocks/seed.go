package blocks

import (
	"sort"

	"github.com/kilianp07/roster/core/model"
)

// Seed returns the initial column set for a solve: every single (forced ones
// included), every feasible split pair, and the blocks of a greedy first-fit
// chaining of all tour instances per day. The result is deduplicated and in
// deterministic order.
func (b *Builder) Seed() []model.Block {
	seen := make(map[string]bool)
	var out []model.Block
	add := func(blk model.Block) {
		if !seen[blk.ID] {
			seen[blk.ID] = true
			out = append(out, blk)
		}
	}
	for i := range b.tours {
		add(b.make([]int{i}))
	}
	groups := make([]string, 0, len(b.groups))
	for g := range b.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		idx := append([]int(nil), b.groups[g]...)
		sort.Ints(idx)
		if len(idx) <= b.rules.MaxToursPerBlock && b.feasible(idx) {
			add(b.make(idx))
		}
	}
	for _, d := range b.Days() {
		for _, blk := range b.greedyDay(d) {
			add(blk)
		}
	}
	return out
}

// greedyDay chains tour instances of one day first-fit: each instance joins
// the first open chain it can extend feasibly, otherwise opens a new one.
// Split partners are placed together first.
func (b *Builder) greedyDay(day int) []model.Block {
	type chain struct{ idx []int }
	var chains []*chain
	placed := make(map[int]int)
	for _, i := range b.days[day] {
		t := b.tours[i]
		if b.forced[i] || t.SplitGroup == "" {
			continue
		}
		grp := append([]int(nil), b.groups[t.SplitGroup]...)
		sort.Ints(grp)
		if grp[0] != i || !b.feasible(grp) || len(grp) > b.rules.MaxToursPerBlock {
			continue
		}
		n := t.Count
		for _, j := range grp {
			if b.tours[j].Count < n {
				n = b.tours[j].Count
			}
		}
		for k := 0; k < n; k++ {
			chains = append(chains, &chain{idx: grp})
		}
		for _, j := range grp {
			placed[j] += n
		}
	}
	for _, i := range b.days[day] {
		if b.forced[i] {
			continue
		}
		for k := placed[i]; k < b.tours[i].Count; k++ {
			joined := false
			for _, c := range chains {
				if len(c.idx) >= b.rules.MaxToursPerBlock || contains(c.idx, i) {
					continue
				}
				cand := append(append([]int(nil), c.idx...), i)
				sort.Ints(cand)
				if b.feasible(cand) {
					c.idx = cand
					joined = true
					break
				}
			}
			if !joined {
				chains = append(chains, &chain{idx: []int{i}})
			}
		}
	}
	out := make([]model.Block, len(chains))
	for i, c := range chains {
		out[i] = b.make(c.idx)
	}
	return out
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
