package solver

import (
	"sort"

	"github.com/kilianp07/roster/core/blocks"
	"github.com/kilianp07/roster/core/model"
)

const (
	// sizeEpsilon favours fewer, longer blocks between equal-cost covers.
	sizeEpsilon = 1e-3
	// churnEpsilon favours blocks of the previously locked plan after size.
	churnEpsilon = 1e-4
)

// Problem is the immutable description of one solve shared by rounds,
// pricing and refinement.
type Problem struct {
	Config  Config
	Builder *blocks.Builder
	// Demand is the number of instances per fingerprint that new blocks must
	// cover. Pinned instances and forced tours are excluded.
	Demand map[string]int
	// Targets lists demanded fingerprints in canonical order.
	Targets []string
	Seed    int64
	prev    map[string]bool
	free    map[string][]model.TourKey
	base    *Roster
	total   int
}

// Cost prices a block as a column.
func (p *Problem) Cost(b model.Block) float64 {
	c := p.Config.PTCost
	if b.WorkMin >= p.Config.FTEBlockMinutes {
		c = p.Config.FTECost
	}
	if p.Builder.BreaksSplit(b) {
		c += p.Config.SplitBreakCost
	}
	c -= sizeEpsilon * float64(len(b.Tours)-1)
	if p.prev[b.ID] {
		c -= churnEpsilon
	}
	return c
}

// Good reports whether a column is a quality column: it either qualifies
// for the FTE rate or combines several tours, and keeps split shifts whole.
func (p *Problem) Good(b model.Block) bool {
	if b.Forced || p.Builder.BreaksSplit(b) {
		return false
	}
	return b.WorkMin >= p.Config.FTEBlockMinutes || len(b.Tours) > 1
}

// Usable reports whether every tour of the block is still demanded.
func (p *Problem) Usable(b model.Block) bool {
	if b.Forced {
		return false
	}
	for _, fp := range b.Tours {
		if p.Demand[fp] <= 0 {
			return false
		}
	}
	return true
}

// Column is a pool entry.
type Column struct {
	Block model.Block
	Cost  float64
	Good  bool
}

// Pool is the growing candidate column set of one solve. It is never shared
// between solves.
type Pool struct {
	cols   []Column
	index  map[string]int
	byTour map[string][]int
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{index: make(map[string]int), byTour: make(map[string][]int)}
}

// Add inserts the block unless a column with the same id exists.
func (p *Pool) Add(prob *Problem, b model.Block) bool {
	if _, ok := p.index[b.ID]; ok || !prob.Usable(b) {
		return false
	}
	i := len(p.cols)
	p.cols = append(p.cols, Column{Block: b, Cost: prob.Cost(b), Good: prob.Good(b)})
	p.index[b.ID] = i
	for _, fp := range b.Tours {
		p.byTour[fp] = append(p.byTour[fp], i)
	}
	return true
}

// Len returns the number of columns.
func (p *Pool) Len() int { return len(p.cols) }

// Col returns column i.
func (p *Pool) Col(i int) Column { return p.cols[i] }

// Has reports whether the pool holds the block id.
func (p *Pool) Has(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Covering returns the indexes of columns containing the tour.
func (p *Pool) Covering(fp string) []int { return p.byTour[fp] }

// Quality returns the percentage of demanded tours covered by at least one
// good column.
func (p *Pool) Quality(prob *Problem) float64 {
	if len(prob.Targets) == 0 {
		return 100
	}
	good := 0
	for _, fp := range prob.Targets {
		for _, i := range p.byTour[fp] {
			if p.cols[i].Good {
				good++
				break
			}
		}
	}
	return 100 * float64(good) / float64(len(prob.Targets))
}

// ratio is the cost per tour of a column.
func (c Column) ratio() float64 { return c.Cost / float64(len(c.Block.Tours)) }

// Ranked returns column indexes ordered by cost per tour, larger blocks and
// then id breaking ties.
func (p *Pool) Ranked() []int {
	idx := make([]int, len(p.cols))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p.less(idx[a], idx[b]) })
	return idx
}

func (p *Pool) less(a, b int) bool {
	ca, cb := p.cols[a], p.cols[b]
	if ra, rb := ca.ratio(), cb.ratio(); ra != rb {
		return ra < rb
	}
	if la, lb := len(ca.Block.Tours), len(cb.Block.Tours); la != lb {
		return la > lb
	}
	return ca.Block.ID < cb.Block.ID
}
