package refine

import (
	"context"
	"math"
	"sort"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
)

const costEps = 1e-9

// dayEngine is a depth-first branch-and-bound over the blocks of one day.
// It covers the day's demand exactly at minimum column cost. Branching
// always picks the first uncovered tour in canonical order and tries its
// blocks cheapest per tour first, so the search is deterministic.
type dayEngine struct {
	ctx      context.Context
	tours    []string
	rem      map[string]int
	cols     []solver.Column
	byTour   map[string][]int
	minRatio map[string]float64

	limit int
	nodes int
	err   error

	path     []int
	best     []int
	bestCost float64
}

// newDayEngine prepares the search. upper is the cost of the incumbent day;
// only strictly cheaper covers are recorded.
func newDayEngine(ctx context.Context, prob *solver.Problem, demand map[string]int, upper float64, limit int) *dayEngine {
	e := &dayEngine{
		ctx:      ctx,
		rem:      make(map[string]int, len(demand)),
		byTour:   make(map[string][]int),
		minRatio: make(map[string]float64),
		limit:    limit,
		bestCost: upper,
	}
	for _, t := range prob.Builder.Tours() {
		if demand[t.Fingerprint] > 0 {
			e.tours = append(e.tours, t.Fingerprint)
			e.rem[t.Fingerprint] = demand[t.Fingerprint]
		}
	}
	seen := make(map[string]bool)
	for _, fp := range e.tours {
		for _, b := range prob.Builder.Containing(fp, 0) {
			if seen[b.ID] || !prob.Usable(b) || !within(b, demand) {
				continue
			}
			seen[b.ID] = true
			e.cols = append(e.cols, solver.Column{Block: b, Cost: prob.Cost(b)})
		}
	}
	sort.SliceStable(e.cols, func(i, j int) bool {
		ri := e.cols[i].Cost / float64(len(e.cols[i].Block.Tours))
		rj := e.cols[j].Cost / float64(len(e.cols[j].Block.Tours))
		if ri != rj {
			return ri < rj
		}
		return e.cols[i].Block.ID < e.cols[j].Block.ID
	})
	for j, c := range e.cols {
		r := c.Cost / float64(len(c.Block.Tours))
		for _, fp := range c.Block.Tours {
			e.byTour[fp] = append(e.byTour[fp], j)
			if m, ok := e.minRatio[fp]; !ok || r < m {
				e.minRatio[fp] = r
			}
		}
	}
	return e
}

func within(b model.Block, demand map[string]int) bool {
	for _, fp := range b.Tours {
		if demand[fp] <= 0 {
			return false
		}
	}
	return true
}

// bound is an admissible lower bound on the cost still to pay.
func (e *dayEngine) bound() float64 {
	lb := 0.0
	for _, fp := range e.tours {
		if r := e.rem[fp]; r > 0 {
			m, ok := e.minRatio[fp]
			if !ok {
				return math.Inf(1)
			}
			lb += float64(r) * m
		}
	}
	return lb
}

func (e *dayEngine) next() string {
	for _, fp := range e.tours {
		if e.rem[fp] > 0 {
			return fp
		}
	}
	return ""
}

func (e *dayEngine) fits(j int) bool {
	for _, fp := range e.cols[j].Block.Tours {
		if e.rem[fp] <= 0 {
			return false
		}
	}
	return true
}

func (e *dayEngine) apply(j, d int) {
	for _, fp := range e.cols[j].Block.Tours {
		e.rem[fp] += d
	}
}

// search explores covers extending the current path.
func (e *dayEngine) search(cost float64) {
	if e.err != nil || e.nodes >= e.limit {
		return
	}
	e.nodes++
	if e.nodes&4095 == 0 {
		if err := e.ctx.Err(); err != nil {
			e.err = err
			return
		}
	}
	fp := e.next()
	if fp == "" {
		if cost < e.bestCost-costEps {
			e.bestCost = cost
			e.best = append(e.best[:0:0], e.path...)
		}
		return
	}
	if cost+e.bound() >= e.bestCost-costEps {
		return
	}
	for _, j := range e.byTour[fp] {
		if !e.fits(j) {
			continue
		}
		e.apply(j, -1)
		e.path = append(e.path, j)
		e.search(cost + e.cols[j].Cost)
		e.path = e.path[:len(e.path)-1]
		e.apply(j, 1)
	}
}

// solve runs the search and returns the improving cover, if any.
func (e *dayEngine) solve() ([]model.Block, error) {
	e.search(0)
	if e.err != nil {
		return nil, e.err
	}
	if e.best == nil {
		return nil, nil
	}
	out := make([]model.Block, len(e.best))
	for i, j := range e.best {
		out[i] = e.cols[j].Block
	}
	return out, nil
}
