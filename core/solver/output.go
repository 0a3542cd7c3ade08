package solver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kilianp07/roster/core/model"
)

// Result is the outcome of a solve. Gaps is set when tours stay uncovered;
// it is a valid result, not an error.
type Result struct {
	Assignments []model.Assignment
	KPIs        model.KPIs
	Uncovered   []model.TourKey
	Rounds      []model.RoundMetrics
	Replay      model.Replay
	LowerBound  int
	OutputHash  string
	Gaps        bool
}

// OutputHash fingerprints a roster. The plan id is not part of it so that
// two plans with the same roster hash identically.
func OutputHash(as []model.Assignment, k model.KPIs, uncovered []model.TourKey) string {
	lines := make([]string, 0, len(as)+len(uncovered)+1)
	for _, a := range as {
		lines = append(lines, fmt.Sprintf("A|%s|%s|%d|%s|%s|%d|%d|%s",
			a.DriverID, a.Tour, a.Day, a.BlockID, a.Role, a.StartMin, a.EndMin, a.DriverClass))
	}
	for _, u := range uncovered {
		lines = append(lines, "U|"+u.String())
	}
	sort.Strings(lines)
	lines = append(lines, fmt.Sprintf("K|%d|%d|%d|%d|%.3f|%d|%.3f|%.3f",
		k.DriversTotal, k.DriversFTE, k.DriversPTCore, k.DriversPTFlex,
		k.TotalHours, k.Uncovered, k.CoveragePct, k.PTOverflowHours))
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// CheckConservation verifies that every tour instance is either assigned
// exactly once or reported uncovered, never both.
func CheckConservation(tours []model.NormalizedTour, as []model.Assignment, uncovered []model.TourKey) error {
	want := make(map[string]bool)
	for _, t := range tours {
		for _, k := range t.Keys() {
			want[k.String()] = true
		}
	}
	got := make(map[string]bool, len(want))
	mark := func(k model.TourKey, what string) error {
		s := k.String()
		if !want[s] {
			return fmt.Errorf("%s tour %s is not part of the forecast", what, s)
		}
		if got[s] {
			return fmt.Errorf("tour %s appears twice", s)
		}
		got[s] = true
		return nil
	}
	for _, a := range as {
		if err := mark(a.Tour, "assigned"); err != nil {
			return err
		}
	}
	for _, u := range uncovered {
		if err := mark(u, "uncovered"); err != nil {
			return err
		}
	}
	if len(got) != len(want) {
		var missing []string
		for k := range want {
			if !got[k] {
				missing = append(missing, k)
			}
		}
		sort.Strings(missing)
		return fmt.Errorf("%d tours neither assigned nor uncovered, first %s", len(missing), missing[0])
	}
	return nil
}

// uncoveredKeys lists the instances of r without a driver.
func uncoveredKeys(r *Roster) []model.TourKey {
	out := append([]model.TourKey(nil), r.Uncovered...)
	for _, i := range r.Unplaced() {
		out = append(out, r.Instances[i].Keys...)
	}
	sortKeys(out)
	return out
}
