package solver

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// Instance is one selected occurrence of a block. Keys runs parallel to
// Block.Tours.
type Instance struct {
	Block  model.Block
	Keys   []model.TourKey
	Locked bool
	Slot   int
	wd     rules.WorkDay
}

// Slot is a driver while solving. It only receives an external id when the
// roster is exported, unless it was pinned to an existing driver.
type Slot struct {
	Days     [8]int
	Work     int
	DriverID string
	Off      [8]bool
}

func newSlot(id string) Slot {
	s := Slot{DriverID: id}
	for d := range s.Days {
		s.Days[d] = -1
	}
	return s
}

// Empty reports whether the slot works no day.
func (s Slot) Empty() bool {
	for d := 1; d <= 7; d++ {
		if s.Days[d] >= 0 {
			return false
		}
	}
	return true
}

// Roster is the arena of instances and slots of one solution.
type Roster struct {
	rules     rules.Rules
	tours     map[string]model.NormalizedTour
	adj       map[string]int
	avoid     map[string]string
	Instances []Instance
	Slots     []Slot
	Uncovered []model.TourKey
}

// NewRoster creates an empty roster. adj shifts individual tour instances by
// minutes; avoid maps a tour instance to a driver id that must not work it.
func NewRoster(r rules.Rules, tours []model.NormalizedTour, adj map[string]int, avoid map[string]string) *Roster {
	m := make(map[string]model.NormalizedTour, len(tours))
	for _, t := range tours {
		m[t.Fingerprint] = t
	}
	return &Roster{rules: r, tours: m, adj: adj, avoid: avoid}
}

// Clone returns a deep copy sharing only immutable data.
func (r *Roster) Clone() *Roster {
	c := *r
	c.Instances = append([]Instance(nil), r.Instances...)
	c.Slots = append([]Slot(nil), r.Slots...)
	c.Uncovered = append([]model.TourKey(nil), r.Uncovered...)
	return &c
}

// AddSlot appends an empty slot and returns its index.
func (r *Roster) AddSlot(driverID string) int {
	r.Slots = append(r.Slots, newSlot(driverID))
	return len(r.Slots) - 1
}

// AddInstance appends an unplaced instance and returns its index.
func (r *Roster) AddInstance(b model.Block, keys []model.TourKey, locked bool) int {
	r.Instances = append(r.Instances, Instance{Block: b, Keys: keys, Locked: locked, Slot: -1})
	i := len(r.Instances) - 1
	sh := r.rules.Shape(r.Spans(i))
	r.Instances[i].wd = rules.WorkDay{Day: b.Day, Start: sh.Start, End: sh.End, Work: sh.Work}
	return i
}

// Spans returns the actual work spans of an instance, delays included.
func (r *Roster) Spans(i int) []rules.Span {
	in := r.Instances[i]
	out := make([]rules.Span, len(in.Keys))
	for j, k := range in.Keys {
		t := r.tours[k.Fingerprint]
		d := r.adj[k.String()]
		out[j] = rules.Span{ID: k.String(), Start: t.StartMin + d, End: t.EndMin + d, Depot: t.Depot}
	}
	rules.SortSpans(out)
	return out
}

// Feasible reports whether instance i still forms a valid day once delays
// are applied.
func (r *Roster) Feasible(i int) bool { return r.rules.DayOK(r.Spans(i)) }

// WorkDay summarises an instance for weekly checks.
func (r *Roster) WorkDay(i int) rules.WorkDay { return r.Instances[i].wd }

func (r *Roster) week(s int) []rules.WorkDay {
	var out []rules.WorkDay
	for d := 1; d <= 7; d++ {
		if i := r.Slots[s].Days[d]; i >= 0 {
			out = append(out, r.WorkDay(i))
		}
	}
	return out
}

// CanPlace reports whether slot s can take instance i.
func (r *Roster) CanPlace(s, i int) bool {
	sl := r.Slots[s]
	in := r.Instances[i]
	d := in.Block.Day
	if d < 1 || d > 7 || sl.Days[d] >= 0 || sl.Off[d] {
		return false
	}
	if sl.DriverID != "" {
		for _, k := range in.Keys {
			if r.avoid[k.String()] == sl.DriverID {
				return false
			}
		}
	}
	return r.rules.WeekOK(r.week(s), r.WorkDay(i))
}

// Place puts instance i on slot s without checking.
func (r *Roster) Place(s, i int) {
	in := &r.Instances[i]
	r.Slots[s].Days[in.Block.Day] = i
	r.Slots[s].Work += r.WorkDay(i).Work
	in.Slot = s
}

// Unplace detaches instance i from its slot.
func (r *Roster) Unplace(i int) {
	in := &r.Instances[i]
	if in.Slot < 0 {
		return
	}
	sl := &r.Slots[in.Slot]
	sl.Days[in.Block.Day] = -1
	sl.Work -= r.WorkDay(i).Work
	in.Slot = -1
}

// Unplaced returns the indexes of instances without a slot.
func (r *Roster) Unplaced() []int {
	var out []int
	for i, in := range r.Instances {
		if in.Slot < 0 {
			out = append(out, i)
		}
	}
	return out
}

// anchor is the average start of the days a slot works.
func (r *Roster) anchor(s int) (int, bool) {
	sum, n := 0, 0
	for d := 1; d <= 7; d++ {
		if i := r.Slots[s].Days[d]; i >= 0 {
			sum += r.WorkDay(i).Start
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / n, true
}

// Pack places instances best-fit: the most loaded feasible slot wins, then
// the slot whose usual start is closest, then the lowest index. Instances
// nobody can take open a new slot.
func (r *Roster) Pack(idx []int) {
	order := append([]int(nil), idx...)
	sort.SliceStable(order, func(a, b int) bool { return r.packLess(order[a], order[b]) })
	for _, i := range order {
		if r.Instances[i].Slot >= 0 {
			continue
		}
		best, bestWork, bestDiff := -1, -1, math.MaxInt
		start := r.WorkDay(i).Start
		for s := range r.Slots {
			if !r.CanPlace(s, i) {
				continue
			}
			diff := 0
			if a, ok := r.anchor(s); ok {
				diff = abs(a - start)
			}
			w := r.Slots[s].Work
			if w > bestWork || (w == bestWork && diff < bestDiff) {
				best, bestWork, bestDiff = s, w, diff
			}
		}
		if best < 0 {
			best = r.AddSlot("")
		}
		r.Place(best, i)
	}
}

func (r *Roster) packLess(a, b int) bool {
	x, y := r.Instances[a], r.Instances[b]
	if x.Block.WorkMin != y.Block.WorkMin {
		return x.Block.WorkMin > y.Block.WorkMin
	}
	if x.Block.Day != y.Block.Day {
		return x.Block.Day < y.Block.Day
	}
	if x.Block.StartMin != y.Block.StartMin {
		return x.Block.StartMin < y.Block.StartMin
	}
	if x.Block.ID != y.Block.ID {
		return x.Block.ID < y.Block.ID
	}
	return x.Keys[0].Less(y.Keys[0])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Without returns a copy of the roster lacking the given instances. Slot
// positions are preserved; slots left without work and without a pinned id
// are dropped.
func (r *Roster) Without(drop map[int]bool) *Roster {
	c := r.Clone()
	c.Instances = nil
	remap := make(map[int]int, len(r.Instances))
	for i, in := range r.Instances {
		if drop[i] {
			continue
		}
		remap[i] = len(c.Instances)
		c.Instances = append(c.Instances, in)
	}
	c.Slots = nil
	slotMap := make(map[int]int)
	for s, sl := range r.Slots {
		ns := newSlot(sl.DriverID)
		ns.Off = sl.Off
		keep := sl.DriverID != ""
		for d := 1; d <= 7; d++ {
			if i := sl.Days[d]; i >= 0 && !drop[i] {
				keep = true
			}
		}
		if !keep {
			continue
		}
		slotMap[s] = len(c.Slots)
		c.Slots = append(c.Slots, ns)
	}
	for i := range c.Instances {
		old := c.Instances[i].Slot
		c.Instances[i].Slot = -1
		if ns, ok := slotMap[old]; ok && old >= 0 {
			c.Place(ns, i)
		}
	}
	return c
}

// Score orders solutions: fewer uncovered instances, then fewer drivers,
// then fewer part-time minutes.
type Score struct {
	Uncovered  int
	Drivers    int
	PTOverflow int
}

// Better reports whether s is strictly better than o.
func (s Score) Better(o Score) bool {
	if s.Uncovered != o.Uncovered {
		return s.Uncovered < o.Uncovered
	}
	if s.Drivers != o.Drivers {
		return s.Drivers < o.Drivers
	}
	return s.PTOverflow < o.PTOverflow
}

// Score evaluates the roster.
func (r *Roster) Score() Score {
	sc := Score{Uncovered: len(r.Uncovered)}
	for _, i := range r.Unplaced() {
		sc.Uncovered += len(r.Instances[i].Keys)
	}
	for _, sl := range r.Slots {
		if sl.Empty() {
			continue
		}
		sc.Drivers++
		if r.rules.Classify(sl.Work).IsPartTime() {
			sc.PTOverflow += sl.Work
		}
	}
	return sc
}

// KPIs summarises the roster. total is the number of tour instances of the
// forecast.
func (r *Roster) KPIs(total int) model.KPIs {
	var k model.KPIs
	work := 0
	for _, sl := range r.Slots {
		if sl.Empty() {
			continue
		}
		k.DriversTotal++
		work += sl.Work
		switch r.rules.Classify(sl.Work) {
		case model.ClassFTE:
			k.DriversFTE++
		case model.ClassPTCore:
			k.DriversPTCore++
			k.PTOverflowHours += float64(sl.Work) / 60
		case model.ClassPTFlex:
			k.DriversPTFlex++
			k.PTOverflowHours += float64(sl.Work) / 60
		}
	}
	k.TotalHours = float64(work) / 60
	k.Uncovered = r.Score().Uncovered
	k.CoveragePct = 100
	if total > 0 {
		k.CoveragePct = 100 * float64(total-k.Uncovered) / float64(total)
	}
	return k
}

// Export names the drivers and returns the assignments sorted by driver,
// day and start. Pinned slots keep their id; other slots take the id of the
// previous driver they share most tours with; the rest get fresh ids.
func (r *Roster) Export(prev []model.Assignment) []model.Assignment {
	names := r.names(prev)
	var out []model.Assignment
	for s, sl := range r.Slots {
		if sl.Empty() {
			continue
		}
		class := r.rules.Classify(sl.Work)
		for d := 1; d <= 7; d++ {
			i := sl.Days[d]
			if i < 0 {
				continue
			}
			in := r.Instances[i]
			for _, sp := range r.Spans(i) {
				k, _ := model.ParseTourKey(sp.ID)
				out = append(out, model.Assignment{
					DriverID:    names[s],
					Tour:        k,
					Day:         d,
					BlockID:     in.Block.ID,
					Role:        model.RolePrimary,
					StartMin:    sp.Start,
					EndMin:      sp.End,
					DriverClass: class,
				})
			}
		}
	}
	SortAssignments(out)
	return out
}

// SortAssignments orders assignments by driver, day, start and tour.
func SortAssignments(as []model.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.DriverID != b.DriverID {
			return a.DriverID < b.DriverID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.Tour.Less(b.Tour)
	})
}

func (r *Roster) names(prev []model.Assignment) map[int]string {
	names := make(map[int]string)
	taken := make(map[string]bool)
	maxNum := 0
	note := func(id string) {
		if n, ok := driverNumber(id); ok && n > maxNum {
			maxNum = n
		}
	}
	for s, sl := range r.Slots {
		if sl.DriverID != "" {
			names[s] = sl.DriverID
			taken[sl.DriverID] = true
			note(sl.DriverID)
		}
	}
	owner := make(map[string]string, len(prev))
	for _, a := range prev {
		owner[a.Tour.String()] = a.DriverID
		note(a.DriverID)
	}
	type pair struct {
		slot    int
		driver  string
		overlap int
	}
	var pairs []pair
	for s, sl := range r.Slots {
		if sl.Empty() || names[s] != "" {
			continue
		}
		count := make(map[string]int)
		for d := 1; d <= 7; d++ {
			if i := sl.Days[d]; i >= 0 {
				for _, k := range r.Instances[i].Keys {
					if o, ok := owner[k.String()]; ok {
						count[o]++
					}
				}
			}
		}
		for drv, n := range count {
			pairs = append(pairs, pair{slot: s, driver: drv, overlap: n})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.overlap != b.overlap {
			return a.overlap > b.overlap
		}
		if a.slot != b.slot {
			return a.slot < b.slot
		}
		return a.driver < b.driver
	})
	for _, p := range pairs {
		if names[p.slot] != "" || taken[p.driver] {
			continue
		}
		names[p.slot] = p.driver
		taken[p.driver] = true
	}
	var rest []int
	for s, sl := range r.Slots {
		if !sl.Empty() && names[s] == "" {
			rest = append(rest, s)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		di, si := r.firstDay(rest[i])
		dj, sj := r.firstDay(rest[j])
		if di != dj {
			return di < dj
		}
		if si != sj {
			return si < sj
		}
		return rest[i] < rest[j]
	})
	for _, s := range rest {
		maxNum++
		names[s] = DriverID(maxNum)
	}
	return names
}

func (r *Roster) firstDay(s int) (int, int) {
	for d := 1; d <= 7; d++ {
		if i := r.Slots[s].Days[d]; i >= 0 {
			return d, r.WorkDay(i).Start
		}
	}
	return 8, 0
}

// DriverID formats the external id of driver n.
func DriverID(n int) string { return fmt.Sprintf("DRV-%03d", n) }

func driverNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "DRV-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}
