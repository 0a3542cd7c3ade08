package rules

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/roster/core/model"
)

// Rule identifies a single hard constraint.
type Rule int

const (
	RuleOverlap Rule = iota
	RuleChangeover
	RuleDepot
	RuleBlockSize
	RulePauseTooLong
	RuleMultiplePauses
	RuleSpanRegular
	RuleSpanSplit
	RuleDailyWork
	RuleDailyRest
	RuleWeeklyHours
	RuleWorkDays
	RuleConsecutiveLongDays
)

func (r Rule) String() string {
	switch r {
	case RuleOverlap:
		return "overlap"
	case RuleChangeover:
		return "changeover"
	case RuleDepot:
		return "depot"
	case RuleBlockSize:
		return "block_size"
	case RulePauseTooLong:
		return "pause_too_long"
	case RuleMultiplePauses:
		return "multiple_pauses"
	case RuleSpanRegular:
		return "span_regular"
	case RuleSpanSplit:
		return "span_split"
	case RuleDailyWork:
		return "daily_work"
	case RuleDailyRest:
		return "daily_rest"
	case RuleWeeklyHours:
		return "weekly_hours"
	case RuleWorkDays:
		return "work_days"
	case RuleConsecutiveLongDays:
		return "consecutive_long_days"
	default:
		return "unknown"
	}
}

// Span is one piece of work on a single day.
type Span struct {
	ID    string
	Start int
	End   int
	Depot string
}

// Breach is a rule violation with the ids of the spans or days involved.
type Breach struct {
	Rule   Rule
	IDs    []string
	Day    int
	Detail string
}

func (b Breach) Error() string { return fmt.Sprintf("%s: %s", b.Rule, b.Detail) }

// DayShape is the derived shape of a feasible day of work.
type DayShape struct {
	Start int
	End   int
	Work  int
	Pause int
	Split bool
}

// Span returns minutes from first start to last end.
func (s DayShape) Span() int { return s.End - s.Start }

// SortSpans orders spans by start, end, then id.
func SortSpans(spans []Span) {
	sort.Slice(spans, func(i, j int) bool {
		a, b := spans[i], spans[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
}

// Shape computes the shape of spans sorted by start.
func (r Rules) Shape(spans []Span) DayShape {
	if len(spans) == 0 {
		return DayShape{}
	}
	sh := DayShape{Start: spans[0].Start, End: spans[0].End}
	for i, s := range spans {
		sh.Work += s.End - s.Start
		if s.End > sh.End {
			sh.End = s.End
		}
		if i > 0 {
			if gap := s.Start - spans[i-1].End; gap >= r.SplitPauseMin {
				sh.Pause += gap
				sh.Split = true
			}
		}
	}
	return sh
}

// Day checks one driver's work on one day. Spans may be in any order.
func (r Rules) Day(day int, spans []Span) []Breach {
	return r.day(day, spans, false)
}

// DayOK reports whether spans form a feasible day. It stops at the first
// breach.
func (r Rules) DayOK(spans []Span) bool {
	return len(r.day(0, spans, true)) == 0
}

func (r Rules) day(day int, in []Span, first bool) []Breach {
	if len(in) == 0 {
		return nil
	}
	spans := append([]Span(nil), in...)
	SortSpans(spans)
	var out []Breach
	add := func(b Breach) bool {
		b.Day = day
		out = append(out, b)
		return first
	}
	if len(spans) > r.MaxToursPerBlock {
		if add(Breach{Rule: RuleBlockSize, IDs: ids(spans), Detail: fmt.Sprintf("%d tours > %d", len(spans), r.MaxToursPerBlock)}) {
			return out
		}
	}
	pauses := 0
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		pair := []string{prev.ID, cur.ID}
		if cur.Depot != spans[0].Depot {
			if add(Breach{Rule: RuleDepot, IDs: pair, Detail: fmt.Sprintf("depot %q vs %q", spans[0].Depot, cur.Depot)}) {
				return out
			}
		}
		gap := cur.Start - prev.End
		switch {
		case gap < 0:
			if add(Breach{Rule: RuleOverlap, IDs: pair, Detail: fmt.Sprintf("overlap of %d min", -gap)}) {
				return out
			}
		case gap < r.MinChangeover:
			if add(Breach{Rule: RuleChangeover, IDs: pair, Detail: fmt.Sprintf("changeover %d < %d min", gap, r.MinChangeover)}) {
				return out
			}
		case gap >= r.SplitPauseMin:
			pauses++
			if gap > r.SplitPauseMax {
				if add(Breach{Rule: RulePauseTooLong, IDs: pair, Detail: fmt.Sprintf("pause %d > %d min", gap, r.SplitPauseMax)}) {
					return out
				}
			}
		}
	}
	if pauses > 1 {
		if add(Breach{Rule: RuleMultiplePauses, IDs: ids(spans), Detail: fmt.Sprintf("%d split pauses", pauses)}) {
			return out
		}
	}
	sh := r.Shape(spans)
	if sh.Split {
		if sh.Span() > r.MaxSpanSplit {
			if add(Breach{Rule: RuleSpanSplit, IDs: ids(spans), Detail: fmt.Sprintf("split span %d > %d min", sh.Span(), r.MaxSpanSplit)}) {
				return out
			}
		}
	} else if sh.Span() > r.MaxSpanRegular {
		if add(Breach{Rule: RuleSpanRegular, IDs: ids(spans), Detail: fmt.Sprintf("span %d > %d min", sh.Span(), r.MaxSpanRegular)}) {
			return out
		}
	}
	if sh.Work > r.MaxDailyWork {
		add(Breach{Rule: RuleDailyWork, IDs: ids(spans), Detail: fmt.Sprintf("work %d > %d min", sh.Work, r.MaxDailyWork)})
	}
	return out
}

func ids(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.ID
	}
	return out
}

// WorkDay summarises one worked day of a driver for weekly checks.
type WorkDay struct {
	Day   int
	Start int
	End   int
	Work  int
}

// NotConsecutive is returned by RestBetween for days that do not follow each
// other.
const NotConsecutive = math.MinInt

// RestBetween returns the rest in minutes between a and a following day b.
// The result is negative when a's work runs past midnight into b's first
// start.
func RestBetween(a, b WorkDay) int {
	if b.Day != a.Day+1 {
		return NotConsecutive
	}
	return b.Start + model.MinutesPerDay - a.End
}

// RestOK reports whether b may follow a.
func (r Rules) RestOK(a, b WorkDay) bool {
	rest := RestBetween(a, b)
	return rest == NotConsecutive || rest >= r.MinDailyRest
}

// Week checks one driver's week. Days may be in any order; each day appears
// at most once.
func (r Rules) Week(days []WorkDay) []Breach {
	if len(days) == 0 {
		return nil
	}
	ds := append([]WorkDay(nil), days...)
	sort.Slice(ds, func(i, j int) bool { return ds[i].Day < ds[j].Day })
	var out []Breach
	total := 0
	run := 0
	for i, d := range ds {
		total += d.Work
		if i > 0 && !r.RestOK(ds[i-1], d) {
			rest := RestBetween(ds[i-1], d)
			b := Breach{
				Rule:   RuleDailyRest,
				Day:    d.Day,
				IDs:    []string{dayID(ds[i-1].Day), dayID(d.Day)},
				Detail: fmt.Sprintf("rest %d < %d min", rest, r.MinDailyRest),
			}
			if rest < 0 {
				b.Rule = RuleOverlap
				b.Detail = fmt.Sprintf("overlap of %d min across midnight", -rest)
			}
			out = append(out, b)
		}
		if d.Work >= r.LongDay {
			if i > 0 && ds[i-1].Day == d.Day-1 && run > 0 {
				run++
			} else {
				run = 1
			}
			if run == r.MaxLongDays+1 {
				out = append(out, Breach{
					Rule:   RuleConsecutiveLongDays,
					Day:    d.Day,
					IDs:    []string{dayID(d.Day)},
					Detail: fmt.Sprintf("%d consecutive days >= %d min", run, r.LongDay),
				})
			}
		} else {
			run = 0
		}
	}
	if len(ds) > r.MaxWorkDays {
		out = append(out, Breach{Rule: RuleWorkDays, Detail: fmt.Sprintf("%d days > %d", len(ds), r.MaxWorkDays)})
	}
	if total > r.WeeklyCeiling {
		out = append(out, Breach{Rule: RuleWeeklyHours, Detail: fmt.Sprintf("weekly %d > %d min", total, r.WeeklyCeiling)})
	}
	return out
}

// WeekOK reports whether adding day to days keeps the week feasible. days must
// not already contain day.Day.
func (r Rules) WeekOK(days []WorkDay, day WorkDay) bool {
	return len(r.Week(append(append([]WorkDay(nil), days...), day))) == 0
}

func dayID(d int) string { return fmt.Sprintf("day-%d", d) }
