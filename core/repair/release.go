package repair

import (
	"slices"
	"sort"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// held is the work one driver holds on one day of the parent plan.
type held struct {
	driver string
	day    int
	keys   []model.TourKey
}

// holdings groups parent assignments by driver and day, ordered by driver
// then day. Keys inside a holding are ordered by start.
func holdings(as []model.Assignment) []*held {
	byKey := make(map[string]*held)
	var out []*held
	sorted := append([]model.Assignment(nil), as...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
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
	for _, a := range sorted {
		k := a.DriverID + "|" + string(rune('0'+a.Day))
		h, ok := byKey[k]
		if !ok {
			h = &held{driver: a.DriverID, day: a.Day}
			byKey[k] = h
			out = append(out, h)
		}
		h.keys = append(h.keys, a.Tour)
	}
	return out
}

// plan collects what a disruption takes away from the parent plan.
type plan struct {
	tours       map[string]model.NormalizedTour
	hs          []*held
	owner       map[string]*held
	released    map[string]bool
	adj         map[string]int
	unavailable map[string][]int
	avoid       map[string]string
}

func newPlan(tours []model.NormalizedTour, as []model.Assignment, adj map[string]int) *plan {
	p := &plan{
		tours:       make(map[string]model.NormalizedTour, len(tours)),
		hs:          holdings(as),
		owner:       make(map[string]*held),
		released:    make(map[string]bool),
		adj:         make(map[string]int, len(adj)),
		unavailable: make(map[string][]int),
		avoid:       make(map[string]string),
	}
	for _, t := range tours {
		p.tours[t.Fingerprint] = t
	}
	for k, v := range adj {
		p.adj[k] = v
	}
	for _, h := range p.hs {
		for _, k := range h.keys {
			p.owner[k.String()] = h
		}
	}
	return p
}

func (p *plan) release(keys ...model.TourKey) {
	for _, k := range keys {
		p.released[k.String()] = true
	}
}

// kept returns the keys of h that are not released.
func (p *plan) kept(h *held) []model.TourKey {
	var out []model.TourKey
	for _, k := range h.keys {
		if !p.released[k.String()] {
			out = append(out, k)
		}
	}
	return out
}

func (p *plan) span(k model.TourKey) rules.Span {
	t := p.tours[k.Fingerprint]
	d := p.adj[k.String()]
	return rules.Span{ID: k.String(), Start: t.StartMin + d, End: t.EndMin + d, Depot: t.Depot}
}

func (p *plan) spans(keys []model.TourKey) []rules.Span {
	out := make([]rules.Span, len(keys))
	for i, k := range keys {
		out[i] = p.span(k)
	}
	rules.SortSpans(out)
	return out
}

// driverDays returns the work days of a driver with the kept keys of each
// holding.
func (p *plan) driverDays(r rules.Rules, driver string) []rules.WorkDay {
	var out []rules.WorkDay
	for _, h := range p.hs {
		if h.driver != driver {
			continue
		}
		kept := p.kept(h)
		if len(kept) == 0 {
			continue
		}
		sh := r.Shape(p.spans(kept))
		out = append(out, rules.WorkDay{Day: h.day, Start: sh.Start, End: sh.End, Work: sh.Work})
	}
	return out
}

// releasedKeys returns the released keys in canonical order.
func (p *plan) releasedKeys() []model.TourKey {
	out := make([]model.TourKey, 0, len(p.released))
	for s := range p.released {
		k, _ := model.ParseTourKey(s)
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// keepAway marks drivers unavailable on the day, or on every day when day is
// zero.
func (p *plan) keepAway(drivers []string, day int) {
	for _, drv := range drivers {
		if day == 0 {
			p.offDays(drv, 1, 2, 3, 4, 5, 6, 7)
		} else {
			p.offDays(drv, day)
		}
	}
}

// offDays adds days to a driver's unavailable days, kept sorted and unique.
func (p *plan) offDays(driver string, days ...int) {
	cur := p.unavailable[driver]
	for _, d := range days {
		if !slices.Contains(cur, d) {
			cur = append(cur, d)
		}
	}
	slices.Sort(cur)
	p.unavailable[driver] = cur
}

// noShow makes drivers unavailable and releases their work on the day, or
// on every day when day is zero.
func (p *plan) noShow(drivers []string, day int) {
	p.keepAway(drivers, day)
	for _, drv := range drivers {
		for _, h := range p.hs {
			if h.driver == drv && (day == 0 || h.day == day) {
				p.release(h.keys...)
			}
		}
	}
}

// delay shifts tours by minutes. While the holding of a delayed tour breaks
// a day rule, the latest other tour named by a breach is released; the
// delayed tour itself goes only when no other tour is involved. If the day
// still breaks the driver's week the whole holding is released.
func (p *plan) delay(r rules.Rules, keys []model.TourKey, minutes int) {
	delayed := make(map[string]bool, len(keys))
	for _, k := range keys {
		p.adj[k.String()] += minutes
		delayed[k.String()] = true
	}
	for _, k := range keys {
		h := p.owner[k.String()]
		if h == nil {
			continue
		}
		for {
			spans := p.spans(p.kept(h))
			breaches := r.Day(h.day, spans)
			if len(spans) == 0 || len(breaches) == 0 {
				break
			}
			p.release(victim(spans, breaches, delayed))
		}
		if len(p.kept(h)) > 0 && len(r.Week(p.driverDays(r, h.driver))) > 0 {
			p.release(h.keys...)
		}
	}
}

// takeAway releases tours and keeps them away from their current driver.
func (p *plan) takeAway(keys []model.TourKey) {
	for _, k := range keys {
		if h := p.owner[k.String()]; h != nil {
			p.avoid[k.String()] = h.driver
		}
		p.release(k)
	}
}

// reshuffle releases every tour of the drivers.
func (p *plan) reshuffle(drivers []string) {
	for _, drv := range drivers {
		for _, h := range p.hs {
			if h.driver == drv {
				p.release(h.keys...)
			}
		}
	}
}

// victim picks the tour to give up for a breached day: the latest span named
// by a breach that was not delayed, else the latest span named at all. A
// breach without ids falls back to the latest span of the day.
func victim(spans []rules.Span, breaches []rules.Breach, delayed map[string]bool) model.TourKey {
	named := make(map[string]bool)
	for _, b := range breaches {
		for _, id := range b.IDs {
			named[id] = true
		}
	}
	pick := ""
	for _, s := range spans {
		if named[s.ID] && !delayed[s.ID] {
			pick = s.ID
		}
	}
	if pick == "" {
		for _, s := range spans {
			if named[s.ID] {
				pick = s.ID
			}
		}
	}
	if pick == "" {
		pick = spans[len(spans)-1].ID
	}
	k, _ := model.ParseTourKey(pick)
	return k
}
