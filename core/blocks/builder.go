// Package blocks enumerates feasible one-day work blocks from normalized
// tours. A block is a candidate column for the set-partitioning solver; the
// builder never decides which driver works it.
//
// Every enumeration is deterministic: tours are indexed by (day, start, end,
// fingerprint) and combinations are produced in lexicographic index order.
package blocks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// ErrUnknownTour is returned when a fingerprint is not part of the tour set.
var ErrUnknownTour = errors.New("unknown tour")

// Builder enumerates blocks for one tour set.
type Builder struct {
	rules  rules.Rules
	tours  []model.NormalizedTour
	pos    map[string]int
	days   map[int][]int
	groups map[string][]int
	forced map[int]bool
}

// New indexes tours. The slice is copied and sorted.
func New(r rules.Rules, tours []model.NormalizedTour) *Builder {
	ts := append([]model.NormalizedTour(nil), tours...)
	sort.Slice(ts, func(i, j int) bool { return lessTour(ts[i], ts[j]) })
	b := &Builder{
		rules:  r,
		tours:  ts,
		pos:    make(map[string]int, len(ts)),
		days:   make(map[int][]int),
		groups: make(map[string][]int),
		forced: make(map[int]bool),
	}
	for i, t := range ts {
		b.pos[t.Fingerprint] = i
		b.days[t.Day] = append(b.days[t.Day], i)
		if t.SplitGroup != "" {
			b.groups[t.SplitGroup] = append(b.groups[t.SplitGroup], i)
		}
		if !r.DayOK([]rules.Span{span(t)}) {
			b.forced[i] = true
		}
	}
	return b
}

func lessTour(a, b model.NormalizedTour) bool {
	if a.Day != b.Day {
		return a.Day < b.Day
	}
	if a.StartMin != b.StartMin {
		return a.StartMin < b.StartMin
	}
	if a.EndMin != b.EndMin {
		return a.EndMin < b.EndMin
	}
	return a.Fingerprint < b.Fingerprint
}

func span(t model.NormalizedTour) rules.Span {
	return rules.Span{ID: t.Fingerprint, Start: t.StartMin, End: t.EndMin, Depot: t.Depot}
}

// Rules returns the rule set used by the builder.
func (b *Builder) Rules() rules.Rules { return b.rules }

// Tours returns the indexed tours in canonical order.
func (b *Builder) Tours() []model.NormalizedTour { return b.tours }

// Tour looks up a tour by fingerprint.
func (b *Builder) Tour(fp string) (model.NormalizedTour, bool) {
	i, ok := b.pos[fp]
	if !ok {
		return model.NormalizedTour{}, false
	}
	return b.tours[i], true
}

// Days returns the days that carry tours, ascending.
func (b *Builder) Days() []int {
	out := make([]int, 0, len(b.days))
	for d := range b.days {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// DayTours returns the tours of one day in canonical order.
func (b *Builder) DayTours(day int) []model.NormalizedTour {
	idx := b.days[day]
	out := make([]model.NormalizedTour, len(idx))
	for i, j := range idx {
		out[i] = b.tours[j]
	}
	return out
}

// Forced returns the fingerprints of tours that fit no feasible block, in
// canonical order.
func (b *Builder) Forced() []string {
	var out []string
	for i, t := range b.tours {
		if b.forced[i] {
			out = append(out, t.Fingerprint)
		}
	}
	return out
}

// IsForced reports whether the tour fits no feasible block.
func (b *Builder) IsForced(fp string) bool {
	i, ok := b.pos[fp]
	return ok && b.forced[i]
}

// Check validates that the tours can form one block. It returns the joined
// rule breaches.
func (b *Builder) Check(fps []string) error {
	if len(fps) == 0 {
		return fmt.Errorf("empty block")
	}
	spans := make([]rules.Span, 0, len(fps))
	day := -1
	seen := make(map[string]bool, len(fps))
	for _, fp := range fps {
		i, ok := b.pos[fp]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTour, fp)
		}
		if seen[fp] {
			return fmt.Errorf("tour %s repeated in block", fp)
		}
		seen[fp] = true
		t := b.tours[i]
		if day >= 0 && t.Day != day {
			return fmt.Errorf("tours span days %d and %d", day, t.Day)
		}
		day = t.Day
		spans = append(spans, span(t))
	}
	breaches := b.rules.Day(day, spans)
	if len(breaches) == 0 {
		return nil
	}
	errs := make([]error, len(breaches))
	for i, br := range breaches {
		errs[i] = br
	}
	return errors.Join(errs...)
}

// Make builds the block for the given tours without checking feasibility.
func (b *Builder) Make(fps []string) (model.Block, error) {
	idx := make([]int, len(fps))
	for i, fp := range fps {
		j, ok := b.pos[fp]
		if !ok {
			return model.Block{}, fmt.Errorf("%w: %s", ErrUnknownTour, fp)
		}
		idx[i] = j
	}
	sort.Ints(idx)
	return b.make(idx), nil
}

// make assembles a block from tour indexes sorted ascending.
func (b *Builder) make(idx []int) model.Block {
	spans := make([]rules.Span, len(idx))
	fps := make([]string, len(idx))
	for i, j := range idx {
		spans[i] = span(b.tours[j])
		fps[i] = b.tours[j].Fingerprint
	}
	sh := b.rules.Shape(spans)
	first := b.tours[idx[0]]
	return model.Block{
		ID:       model.BlockID(first.Day, fps),
		Day:      first.Day,
		Type:     model.BlockTypeFor(len(idx)),
		Tours:    fps,
		StartMin: sh.Start,
		EndMin:   sh.End,
		WorkMin:  sh.Work,
		PauseMin: sh.Pause,
		Split:    sh.Split,
		Depot:    first.Depot,
		Forced:   len(idx) == 1 && b.forced[idx[0]],
	}
}

func (b *Builder) feasible(idx []int) bool {
	spans := make([]rules.Span, len(idx))
	for i, j := range idx {
		spans[i] = span(b.tours[j])
	}
	return b.rules.DayOK(spans)
}

// reachable reports whether tour k starts close enough after tour i to ever
// share a block.
func (b *Builder) reachable(i, k int) bool {
	return b.tours[k].StartMin-b.tours[i].StartMin <= b.rules.MaxSpanSplit
}

// BreaksSplit reports whether the block holds part of a split shift without
// its partner.
func (b *Builder) BreaksSplit(blk model.Block) bool {
	for _, fp := range blk.Tours {
		t, ok := b.Tour(fp)
		if !ok || t.SplitGroup == "" {
			continue
		}
		for _, j := range b.groups[t.SplitGroup] {
			if !blk.Contains(b.tours[j].Fingerprint) {
				return true
			}
		}
	}
	return false
}

// All enumerates every feasible block plus one forced single per tour that
// fits nowhere.
func (b *Builder) All() []model.Block {
	var out []model.Block
	for _, d := range b.Days() {
		b.enumerateDay(d, -1, func(blk model.Block) bool {
			out = append(out, blk)
			return true
		})
	}
	return out
}

// Count returns the number of blocks All would return without materialising
// them beyond limit. It stops counting at limit when limit > 0.
func (b *Builder) Count(limit int) int {
	n := 0
	for _, d := range b.Days() {
		b.enumerateDay(d, -1, func(model.Block) bool {
			n++
			return limit <= 0 || n < limit
		})
		if limit > 0 && n >= limit {
			break
		}
	}
	return n
}

// Containing enumerates feasible blocks that hold the tour, larger work
// first. limit <= 0 means no limit.
func (b *Builder) Containing(fp string, limit int) []model.Block {
	i, ok := b.pos[fp]
	if !ok {
		return nil
	}
	var out []model.Block
	b.enumerateDay(b.tours[i].Day, i, func(blk model.Block) bool {
		out = append(out, blk)
		return true
	})
	sort.SliceStable(out, func(x, y int) bool {
		if out[x].WorkMin != out[y].WorkMin {
			return out[x].WorkMin > out[y].WorkMin
		}
		return out[x].ID < out[y].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// enumerateDay walks feasible combinations of one day in lexicographic index
// order. When must >= 0 only combinations containing that tour are emitted.
// emit returns false to stop.
func (b *Builder) enumerateDay(day, must int, emit func(model.Block) bool) {
	idx := b.days[day]
	maxTours := b.rules.MaxToursPerBlock
	has := func(c []int) bool {
		if must < 0 {
			return true
		}
		for _, v := range c {
			if v == must {
				return true
			}
		}
		return false
	}
	for a := 0; a < len(idx); a++ {
		i := idx[a]
		if b.forced[i] {
			if has([]int{i}) && !emit(b.make([]int{i})) {
				return
			}
			continue
		}
		if has([]int{i}) && !emit(b.make([]int{i})) {
			return
		}
		if maxTours < 2 {
			continue
		}
		for c := a + 1; c < len(idx); c++ {
			j := idx[c]
			if !b.reachable(i, j) {
				break
			}
			if b.forced[j] || !b.feasible([]int{i, j}) {
				continue
			}
			if has([]int{i, j}) && !emit(b.make([]int{i, j})) {
				return
			}
			if maxTours < 3 {
				continue
			}
			for e := c + 1; e < len(idx); e++ {
				k := idx[e]
				if !b.reachable(i, k) {
					break
				}
				if b.forced[k] {
					continue
				}
				tri := []int{i, j, k}
				if !has(tri) || !b.feasible(tri) {
					continue
				}
				if !emit(b.make(tri)) {
					return
				}
			}
		}
	}
}
