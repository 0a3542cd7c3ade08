package refine

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
)

const (
	opRandom = iota
	opWeakest
)

// errNoMove is returned when the roster has no driver that can be destroyed.
var errNoMove = errors.New("no destroyable driver")

// destroyRepair releases the unlocked work of a few drivers, re-partitions
// the released tours over the column pool with randomised ranking and packs
// the new blocks into the remaining roster.
func destroyRepair(prob *solver.Problem, pool *solver.Pool, cur *solver.Roster, op int, rng *rand.Rand) (*solver.Roster, error) {
	var slots []int
	for s, sl := range cur.Slots {
		for d := 1; d <= 7; d++ {
			if i := sl.Days[d]; i >= 0 && !cur.Instances[i].Locked {
				slots = append(slots, s)
				break
			}
		}
	}
	if len(slots) == 0 {
		return nil, errNoMove
	}
	k := min(prob.Config.Refine.DestroyDrivers, len(slots))
	switch op {
	case opRandom:
		rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	case opWeakest:
		jitter := make(map[int]int, len(slots))
		for _, s := range slots {
			jitter[s] = cur.Slots[s].Work + rng.Intn(60)
		}
		sort.SliceStable(slots, func(i, j int) bool { return jitter[slots[i]] < jitter[slots[j]] })
	}

	drop := make(map[int]bool)
	released := make(map[string][]model.TourKey)
	demand := make(map[string]int)
	for _, s := range slots[:k] {
		for d := 1; d <= 7; d++ {
			i := cur.Slots[s].Days[d]
			if i < 0 || cur.Instances[i].Locked {
				continue
			}
			drop[i] = true
			for _, key := range cur.Instances[i].Keys {
				released[key.Fingerprint] = append(released[key.Fingerprint], key)
				demand[key.Fingerprint]++
			}
		}
	}
	for fp := range released {
		ks := released[fp]
		sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
	}

	blocks, err := repartition(prob, pool, demand, rng)
	if err != nil {
		return nil, err
	}
	cand := cur.Without(drop)
	next := make(map[string]int)
	var idx []int
	for _, b := range blocks {
		keys := make([]model.TourKey, len(b.Tours))
		for j, fp := range b.Tours {
			keys[j] = released[fp][next[fp]]
			next[fp]++
		}
		i := cand.AddInstance(b, keys, false)
		if len(keys) > 1 && !cand.Feasible(i) {
			cand.Instances = cand.Instances[:i]
			for j, fp := range b.Tours {
				single, err := prob.Builder.Make([]string{fp})
				if err != nil {
					return nil, err
				}
				idx = append(idx, cand.AddInstance(single, keys[j:j+1], false))
			}
			continue
		}
		idx = append(idx, i)
	}
	cand.Pack(idx)
	return cand, nil
}

// repartition covers demand exactly with pool columns ranked by a perturbed
// cost per tour. Tours no column can take are covered by singles.
func repartition(prob *solver.Problem, pool *solver.Pool, demand map[string]int, rng *rand.Rand) ([]model.Block, error) {
	type scored struct {
		j     int
		ratio float64
	}
	var cols []scored
	for _, j := range pool.Ranked() {
		c := pool.Col(j)
		if !within(c.Block, demand) {
			continue
		}
		r := c.Cost / float64(len(c.Block.Tours)) * (1 + 0.15*rng.Float64())
		cols = append(cols, scored{j, r})
	}
	sort.SliceStable(cols, func(a, b int) bool { return cols[a].ratio < cols[b].ratio })

	rem := make(map[string]int, len(demand))
	for fp, n := range demand {
		rem[fp] = n
	}
	var out []model.Block
	for _, c := range cols {
		b := pool.Col(c.j).Block
		for fits(b, rem) {
			for _, fp := range b.Tours {
				rem[fp]--
			}
			out = append(out, b)
		}
	}
	fps := make([]string, 0, len(rem))
	for fp, n := range rem {
		if n > 0 {
			fps = append(fps, fp)
		}
	}
	sort.Strings(fps)
	for _, fp := range fps {
		single, err := prob.Builder.Make([]string{fp})
		if err != nil {
			return nil, err
		}
		for ; rem[fp] > 0; rem[fp]-- {
			out = append(out, single)
		}
	}
	return out, nil
}

func fits(b model.Block, rem map[string]int) bool {
	for _, fp := range b.Tours {
		if rem[fp] <= 0 {
			return false
		}
	}
	return true
}
