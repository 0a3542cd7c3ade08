// Package audit runs the deterministic compliance checks that gate plan
// promotion. Checks only look at persisted data (tours, assignments and the
// rules snapshot of the plan), so running them twice on the same plan always
// yields the same records.
package audit

import (
	"fmt"
	"sort"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// Input is the data a check looks at.
type Input struct {
	Plan        model.PlanVersion
	Tours       []model.NormalizedTour
	Assignments []model.Assignment
	Rules       rules.Rules
}

// checkOf maps a hard rule to the audit check reporting it.
func checkOf(r rules.Rule) model.CheckName {
	switch r {
	case rules.RuleOverlap, rules.RuleChangeover, rules.RuleDepot:
		return model.CheckOverlap
	case rules.RuleDailyRest:
		return model.CheckRest
	case rules.RuleSpanRegular, rules.RuleBlockSize:
		return model.CheckSpanRegular
	case rules.RuleSpanSplit, rules.RulePauseTooLong, rules.RuleMultiplePauses:
		return model.CheckSpanSplit
	case rules.RuleDailyWork, rules.RuleWeeklyHours, rules.RuleWorkDays, rules.RuleConsecutiveLongDays:
		return model.CheckFatigue
	default:
		panic(fmt.Sprintf("audit: unmapped rule %v", r))
	}
}

// coverage checks that every tour instance is assigned exactly once or
// reported uncovered. Gaps are violations unless structural is set, in which
// case only double, unknown and missing tours count.
func coverage(in Input, structural bool) []model.Violation {
	want := make(map[string]bool)
	for _, t := range in.Tours {
		for _, k := range t.Keys() {
			want[k.String()] = true
		}
	}
	owner := make(map[string][]string)
	var out []model.Violation
	for _, a := range in.Assignments {
		k := a.Tour.String()
		if !want[k] {
			out = append(out, model.Violation{Rule: "unknown_tour", Tours: []string{k}, DriverIDs: []string{a.DriverID}, Day: a.Day})
			continue
		}
		owner[k] = append(owner[k], a.DriverID)
	}
	gap := make(map[string]bool)
	for _, u := range in.Plan.Uncovered {
		k := u.String()
		gap[k] = true
		if len(owner[k]) > 0 {
			out = append(out, model.Violation{Rule: "assigned_and_uncovered", Tours: []string{k}, DriverIDs: owner[k]})
		} else if !structural {
			out = append(out, model.Violation{Rule: "uncovered", Tours: []string{k}})
		}
	}
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch n := len(owner[k]); {
		case n > 1:
			out = append(out, model.Violation{Rule: "double_assigned", Tours: []string{k}, DriverIDs: owner[k]})
		case n == 0 && !gap[k]:
			out = append(out, model.Violation{Rule: "missing", Tours: []string{k}})
		}
	}
	return out
}

// hard evaluates every daily and weekly rule per driver and groups the
// breaches by audit check.
func hard(in Input) map[model.CheckName][]model.Violation {
	depot := make(map[string]string, len(in.Tours))
	for _, t := range in.Tours {
		depot[t.Fingerprint] = t.Depot
	}
	type dayKey struct {
		driver string
		day    int
	}
	spans := make(map[dayKey][]rules.Span)
	var drivers []string
	seen := make(map[string]bool)
	for _, a := range in.Assignments {
		k := dayKey{a.DriverID, a.Day}
		spans[k] = append(spans[k], rules.Span{ID: a.Tour.String(), Start: a.StartMin, End: a.EndMin, Depot: depot[a.Tour.Fingerprint]})
		if !seen[a.DriverID] {
			seen[a.DriverID] = true
			drivers = append(drivers, a.DriverID)
		}
	}
	sort.Strings(drivers)

	out := make(map[model.CheckName][]model.Violation)
	add := func(driver string, b rules.Breach) {
		c := checkOf(b.Rule)
		out[c] = append(out[c], model.Violation{
			Rule:      b.Rule.String(),
			DriverIDs: []string{driver},
			Tours:     b.IDs,
			Day:       b.Day,
			Detail:    b.Detail,
		})
	}
	for _, drv := range drivers {
		var week []rules.WorkDay
		for d := 1; d <= 7; d++ {
			ss, ok := spans[dayKey{drv, d}]
			if !ok {
				continue
			}
			for _, b := range in.Rules.Day(d, ss) {
				add(drv, b)
			}
			sorted := append([]rules.Span(nil), ss...)
			rules.SortSpans(sorted)
			sh := in.Rules.Shape(sorted)
			week = append(week, rules.WorkDay{Day: d, Start: sh.Start, End: sh.End, Work: sh.Work})
		}
		for _, b := range in.Rules.Week(week) {
			add(drv, b)
		}
	}
	return out
}

// Evaluate runs one deterministic check. REPRODUCIBILITY needs a solver and
// is handled by Engine.
func Evaluate(c model.CheckName, in Input) []model.Violation {
	switch c {
	case model.CheckCoverage:
		return coverage(in, false)
	case model.CheckOverlap, model.CheckRest, model.CheckSpanRegular, model.CheckSpanSplit, model.CheckFatigue:
		return hard(in)[c]
	case model.CheckReproducibility, model.CheckFreezeWindow:
		return nil
	default:
		panic(fmt.Sprintf("audit: unknown check %v", c))
	}
}

// Validate returns every hard-constraint violation of a roster. Uncovered
// tours are not violations here; use Evaluate(CheckCoverage) for that.
func Validate(in Input) []model.Violation {
	out := coverage(in, true)
	h := hard(in)
	for _, c := range model.AllChecks {
		out = append(out, h[c]...)
	}
	return out
}
