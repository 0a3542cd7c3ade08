package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay is the length of a roster day in minutes.
const MinutesPerDay = 24 * 60

// ForecastVersion is one immutable snapshot of tour demand.
type ForecastVersion struct {
	ID          string           `json:"id"`
	Source      string           `json:"source"`
	ContentHash string           `json:"content_hash"`
	RulesetHash string           `json:"ruleset_hash"`
	Status      ValidationStatus `json:"status"`
	WeekAnchor  time.Time        `json:"week_anchor"`
	CreatedAt   time.Time        `json:"created_at"`
	Lines       []RawTourLine    `json:"lines,omitempty"`
	Tours       []NormalizedTour `json:"tours,omitempty"`
}

// Solvable reports whether the forecast may feed a solve.
func (f ForecastVersion) Solvable() bool { return f.Status != ValidationFail }

// InstanceCount returns the number of tour instances in the forecast.
func (f ForecastVersion) InstanceCount() int {
	n := 0
	for _, t := range f.Tours {
		n += t.Count
	}
	return n
}

// RawTourLine keeps one input line with its parse outcome.
type RawTourLine struct {
	LineNo    int        `json:"line_no"`
	Raw       string     `json:"raw"`
	Canonical string     `json:"canonical,omitempty"`
	Status    LineStatus `json:"status"`
	Errors    []string   `json:"errors,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// NormalizedTour is a canonical, deduplicated tour. StartMin and EndMin are
// minutes after midnight of Day; EndMin may exceed MinutesPerDay when the tour
// crosses midnight.
type NormalizedTour struct {
	Fingerprint string   `json:"fingerprint"`
	Day         int      `json:"day"`
	StartMin    int      `json:"start_min"`
	EndMin      int      `json:"end_min"`
	Depot       string   `json:"depot,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Count       int      `json:"count"`
	SplitGroup  string   `json:"split_group,omitempty"`
	LineNo      int      `json:"line_no"`
}

// Duration returns the tour length in minutes. It is also the required work
// time of one instance.
func (t NormalizedTour) Duration() int { return t.EndMin - t.StartMin }

// Keys expands the tour into one key per instance.
func (t NormalizedTour) Keys() []TourKey {
	keys := make([]TourKey, t.Count)
	for i := range keys {
		keys[i] = TourKey{Fingerprint: t.Fingerprint, Instance: i}
	}
	return keys
}

// TourKey identifies one instance of a normalized tour. It is the unit that is
// covered by exactly one assignment.
type TourKey struct {
	Fingerprint string `json:"fingerprint"`
	Instance    int    `json:"instance"`
}

func (k TourKey) String() string { return k.Fingerprint + ":" + strconv.Itoa(k.Instance) }

// Less orders keys by fingerprint, then instance.
func (k TourKey) Less(o TourKey) bool {
	if k.Fingerprint != o.Fingerprint {
		return k.Fingerprint < o.Fingerprint
	}
	return k.Instance < o.Instance
}

func (k TourKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TourKey) UnmarshalText(b []byte) error {
	p, err := ParseTourKey(string(b))
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// ParseTourKey parses the "<fingerprint>:<instance>" form. A bare fingerprint
// refers to instance 0.
func ParseTourKey(s string) (TourKey, error) {
	s = strings.TrimSpace(s)
	fp, inst, ok := strings.Cut(s, ":")
	if fp == "" {
		return TourKey{}, fmt.Errorf("empty tour key")
	}
	if !ok {
		return TourKey{Fingerprint: fp}, nil
	}
	n, err := strconv.Atoi(inst)
	if err != nil || n < 0 {
		return TourKey{}, fmt.Errorf("invalid tour key %q", s)
	}
	return TourKey{Fingerprint: fp, Instance: n}, nil
}

// FormatClock renders minutes after midnight as HH:MM. Values past midnight
// wrap.
func FormatClock(min int) string {
	m := ((min % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
