package repair

import (
	"sort"

	"github.com/kilianp07/roster/core/model"
)

// Churn measures how far after moved from before. A driver changed when the
// set of tours or blocks they work differs; a block moved when it no longer
// appears unchanged on its driver. Pure time shifts do not count.
func Churn(before, after []model.Assignment) model.ChurnSummary {
	work := func(as []model.Assignment) (map[string]map[string]bool, map[string]bool, map[string]string) {
		byDriver := make(map[string]map[string]bool)
		blocks := make(map[string]bool)
		owner := make(map[string]string, len(as))
		for _, a := range as {
			set := byDriver[a.DriverID]
			if set == nil {
				set = make(map[string]bool)
				byDriver[a.DriverID] = set
			}
			set[a.Tour.String()+"|"+a.BlockID] = true
			blocks[a.DriverID+"|"+a.BlockID] = true
			owner[a.Tour.String()] = a.DriverID
		}
		return byDriver, blocks, owner
	}
	bw, bb, bo := work(before)
	aw, ab, ao := work(after)

	var s model.ChurnSummary
	drivers := make(map[string]bool)
	for d := range bw {
		drivers[d] = true
	}
	for d := range aw {
		drivers[d] = true
	}
	for d := range drivers {
		if !sameSet(bw[d], aw[d]) {
			s.ChangedDrivers = append(s.ChangedDrivers, d)
		}
	}
	sort.Strings(s.ChangedDrivers)
	s.DriversChanged = len(s.ChangedDrivers)

	for b := range bb {
		if !ab[b] {
			s.BlocksMoved++
		}
	}
	keys := make(map[string]bool, len(bo))
	for k := range bo {
		keys[k] = true
	}
	for k := range ao {
		keys[k] = true
	}
	for k := range keys {
		if bo[k] != ao[k] {
			s.ToursReassigned++
		}
	}
	return s
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
