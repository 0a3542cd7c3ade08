package solver

import (
	"fmt"
	"sort"

	"github.com/kilianp07/roster/core/blocks"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// Pinned fixes a block on a driver. Repairs pin every block they do not
// release.
type Pinned struct {
	DriverID string
	Block    model.Block
	Keys     []model.TourKey
}

// Input is everything a solve depends on besides the config.
type Input struct {
	Tours []model.NormalizedTour
	Seed  int64
	// Previous is the assignment set of the last locked plan. It drives the
	// churn tie-break and driver naming.
	Previous []model.Assignment
	Pinned   []Pinned
	// Drivers are existing driver ids kept as slots even when idle.
	Drivers []string
	// Unavailable lists days a driver cannot work.
	Unavailable map[string][]int
	// Avoid maps a tour instance to a driver id that must not work it.
	Avoid map[string]string
	// Adjustments shifts tour instances by minutes.
	Adjustments map[string]int
	// Replay bounds the work so that a reproduction stops where the
	// original solve stopped.
	Replay   *model.Replay
	Progress func(Progress)
}

func NewProblem(cfg Config, in Input) (*Problem, error) {
	seen := make(map[string]bool, len(in.Tours))
	for _, t := range in.Tours {
		if seen[t.Fingerprint] {
			return nil, model.Errorf(model.CodeInputInvalid, "duplicate tour fingerprint %s", t.Fingerprint)
		}
		if t.Count < 1 {
			return nil, model.Errorf(model.CodeInputInvalid, "tour %s has no instances", t.Fingerprint)
		}
		seen[t.Fingerprint] = true
	}
	b := blocks.New(cfg.Rules, in.Tours)
	p := &Problem{
		Config:  cfg,
		Builder: b,
		Demand:  make(map[string]int),
		Seed:    in.Seed,
		prev:    make(map[string]bool),
		free:    make(map[string][]model.TourKey),
	}
	for _, a := range in.Previous {
		p.prev[a.BlockID] = true
	}
	base, pinned, err := baseRoster(cfg.Rules, in)
	if err != nil {
		return nil, err
	}
	p.base = base
	for _, t := range b.Tours() {
		p.total += t.Count
		var free []model.TourKey
		for _, k := range t.Keys() {
			if !pinned[k.String()] {
				free = append(free, k)
			}
		}
		if len(free) == 0 {
			continue
		}
		if b.IsForced(t.Fingerprint) {
			base.Uncovered = append(base.Uncovered, free...)
			continue
		}
		p.free[t.Fingerprint] = free
		p.Demand[t.Fingerprint] = len(free)
		p.Targets = append(p.Targets, t.Fingerprint)
	}
	return p, nil
}

// baseRoster places pinned blocks on their drivers.
func baseRoster(r rules.Rules, in Input) (*Roster, map[string]bool, error) {
	base := NewRoster(r, in.Tours, in.Adjustments, in.Avoid)
	ids := append([]string(nil), in.Drivers...)
	for _, p := range in.Pinned {
		ids = append(ids, p.DriverID)
	}
	sort.Strings(ids)
	slot := make(map[string]int)
	for _, id := range ids {
		if id == "" {
			return nil, nil, model.Errorf(model.CodeInputInvalid, "pinned block without driver")
		}
		if _, ok := slot[id]; ok {
			continue
		}
		s := base.AddSlot(id)
		for _, d := range in.Unavailable[id] {
			if d >= 1 && d <= 7 {
				base.Slots[s].Off[d] = true
			}
		}
		slot[id] = s
	}
	tours := make(map[string]model.NormalizedTour, len(in.Tours))
	for _, t := range in.Tours {
		tours[t.Fingerprint] = t
	}
	pinned := make(map[string]bool)
	for _, p := range in.Pinned {
		if len(p.Keys) != len(p.Block.Tours) {
			return nil, nil, model.Errorf(model.CodeInputInvalid, "pinned block %s: %d keys for %d tours", p.Block.ID, len(p.Keys), len(p.Block.Tours))
		}
		for j, k := range p.Keys {
			t, ok := tours[k.Fingerprint]
			if !ok || k.Fingerprint != p.Block.Tours[j] || k.Instance < 0 || k.Instance >= t.Count {
				return nil, nil, model.Errorf(model.CodeInputInvalid, "pinned block %s: unknown tour %s", p.Block.ID, k)
			}
			if pinned[k.String()] {
				return nil, nil, model.Errorf(model.CodeInputInvalid, "tour %s pinned twice", k)
			}
			pinned[k.String()] = true
		}
		s := slot[p.DriverID]
		if base.Slots[s].Days[p.Block.Day] >= 0 {
			return nil, nil, model.Errorf(model.CodeInputInvalid, "driver %s has two pinned blocks on day %d", p.DriverID, p.Block.Day)
		}
		i := base.AddInstance(p.Block, p.Keys, true)
		base.Place(s, i)
	}
	return base, pinned, nil
}

// Instances returns the number of tour instances of the forecast.
func (p *Problem) Instances() int { return p.total }

// Base returns the roster holding only pinned blocks.
func (p *Problem) Base() *Roster { return p.base }

// Assemble turns selected blocks into a packed roster on top of the pinned
// base. Tour instances are handed out in instance order; demand left over
// is reported uncovered.
func (p *Problem) Assemble(sel []model.Block) (*Roster, error) {
	r := p.base.Clone()
	next := make(map[string]int)
	var idx []int
	for _, b := range sel {
		keys := make([]model.TourKey, len(b.Tours))
		for j, fp := range b.Tours {
			free := p.free[fp]
			if next[fp] >= len(free) {
				return nil, fmt.Errorf("block %s over-covers tour %s", b.ID, fp)
			}
			keys[j] = free[next[fp]]
			next[fp]++
		}
		i := r.AddInstance(b, keys, false)
		if len(keys) > 1 && !r.Feasible(i) {
			// Delays broke the block; the tours are worked separately.
			r.Instances = r.Instances[:i]
			for j, fp := range b.Tours {
				single, err := p.Builder.Make([]string{fp})
				if err != nil {
					return nil, err
				}
				idx = append(idx, r.AddInstance(single, keys[j:j+1], false))
			}
			continue
		}
		idx = append(idx, i)
	}
	for _, fp := range p.Targets {
		r.Uncovered = append(r.Uncovered, p.free[fp][next[fp]:]...)
	}
	sortKeys(r.Uncovered)
	r.Pack(idx)
	return r, nil
}

// Selection returns the unlocked blocks of a roster in instance order.
func Selection(r *Roster) []model.Block {
	var out []model.Block
	for _, in := range r.Instances {
		if !in.Locked {
			out = append(out, in.Block)
		}
	}
	return out
}

func sortKeys(ks []model.TourKey) {
	sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
}
