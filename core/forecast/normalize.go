// Package forecast turns raw forecast text into canonical, fingerprinted
// tours.
//
// One tour per line:
//
//	<day> <HH:MM>-<HH:MM>[ + <HH:MM>-<HH:MM>] [<n> Fahrer|<n>x] [@<depot>] [#<skill>...]
//
// Blank lines and lines starting with "//" or ";" are skipped.
package forecast

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kilianp07/roster/core/model"
)

// RulesetVersion identifies the grammar implemented by this package. It is
// folded into the ruleset hash.
const RulesetVersion = "tour-lines/v1"

// Config controls canonicalisation.
type Config struct {
	GranularityMin int    `json:"granularity_minutes"`
	DefaultDepot   string `json:"default_depot"`
	// MaxInstances caps the instance count of one tour, merged duplicates
	// included.
	MaxInstances int `json:"max_instances"`
}

// DefaultMaxInstances is the instance cap used when none is configured.
const DefaultMaxInstances = 200

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.GranularityMin == 0 {
		c.GranularityMin = 5
	}
	if c.MaxInstances == 0 {
		c.MaxInstances = DefaultMaxInstances
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.GranularityMin < 1 || c.GranularityMin > 60 {
		return fmt.Errorf("granularity_minutes must be 1..60, got %d", c.GranularityMin)
	}
	if c.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be positive, got %d", c.MaxInstances)
	}
	return nil
}

// ErrInvalidCount prefixes line errors about driver counts.
const ErrInvalidCount = "INVALID_COUNT"

// Result is the outcome of normalising one forecast text.
type Result struct {
	Status model.ValidationStatus
	Lines  []model.RawTourLine
	Tours  []model.NormalizedTour
}

// Failed returns the lines with status FAIL.
func (r Result) Failed() []model.RawTourLine {
	var out []model.RawTourLine
	for _, l := range r.Lines {
		if l.Status == model.LineFail {
			out = append(out, l)
		}
	}
	return out
}

// Normalizer parses and canonicalises forecast text.
type Normalizer struct {
	cfg Config
}

// New returns a Normalizer. Unset config fields take defaults.
func New(cfg Config) *Normalizer {
	cfg.SetDefaults()
	return &Normalizer{cfg: cfg}
}

// RulesetHash identifies the parser configuration and grammar version.
func (n *Normalizer) RulesetHash() string {
	b, _ := json.Marshal(n.cfg)
	sum := sha256.Sum256(append([]byte(RulesetVersion+"|"), b...))
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the hash identifying a forecast text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fingerprint is the stable identity of a tour. It depends only on the tour's
// logical attributes, never on its position in the input.
func Fingerprint(day, start, end int, depot string, skills []string) string {
	s := append([]string(nil), skills...)
	sort.Strings(s)
	key := fmt.Sprintf("%d|%d|%d|%s|%s", day, start, end, depot, strings.Join(s, ","))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:32]
}

// SplitGroup derives the key linking the two parts of a split shift.
func SplitGroup(first, second string) string {
	sum := sha256.Sum256([]byte("split|" + first + "|" + second))
	return hex.EncodeToString(sum[:])[:16]
}

var (
	rangeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})-(\d{1,2}):(\d{2})$`)
	countRe = regexp.MustCompile(`^(\d+)x$`)
	dayRe   = regexp.MustCompile(`^[1-7]$`)
)

var dayNames = map[string]int{
	"mo": 1, "di": 2, "mi": 3, "do": 4, "fr": 5, "sa": 6, "so": 7,
	"mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6, "sun": 7,
	"tu": 2, "we": 3, "th": 4, "su": 7,
	"montag": 1, "dienstag": 2, "mittwoch": 3, "donnerstag": 4, "freitag": 5, "samstag": 6, "sonntag": 7,
}

var dayLabels = [...]string{"", "Mo", "Di", "Mi", "Do", "Fr", "Sa", "So"}

// DayLabel returns the short label of day 1..7.
func DayLabel(day int) string {
	if day < 1 || day > 7 {
		return strconv.Itoa(day)
	}
	return dayLabels[day]
}

type parsedLine struct {
	day    int
	ranges [][2]int
	count  int
	depot  string
	skills []string
	warns  []string
}

// Normalize parses text. Per-line problems are collected; one bad line never
// aborts the batch.
func (n *Normalizer) Normalize(text string) Result {
	res := Result{Status: model.ValidationPass}
	byFP := make(map[string]int)
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range raw {
		rl := model.RawTourLine{LineNo: i + 1, Raw: line, Status: model.LinePass}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, ";") {
			if trimmed == "" && i == len(raw)-1 {
				continue
			}
			rl.Status = model.LineSkipped
			res.Lines = append(res.Lines, rl)
			continue
		}
		p, err := n.parseLine(trimmed)
		if err != nil {
			rl.Status = model.LineFail
			rl.Errors = []string{err.Error()}
			res.Lines = append(res.Lines, rl)
			res.Status = model.ValidationFail
			continue
		}
		rl.Warnings = p.warns
		rl.Canonical = canonical(p)
		fps := make([]string, len(p.ranges))
		for j, r := range p.ranges {
			fps[j] = Fingerprint(p.day, r[0], r[1], p.depot, p.skills)
		}
		group := ""
		if len(fps) == 2 {
			group = SplitGroup(fps[0], fps[1])
		}
		if err := n.checkMerge(res.Tours, byFP, fps, p.count); err != nil {
			rl.Status = model.LineFail
			rl.Errors = []string{err.Error()}
			res.Lines = append(res.Lines, rl)
			res.Status = model.ValidationFail
			continue
		}
		for j, r := range p.ranges {
			fp := fps[j]
			if idx, ok := byFP[fp]; ok {
				t := &res.Tours[idx]
				t.Count += p.count
				rl.Warnings = append(rl.Warnings, fmt.Sprintf("duplicate of line %d merged", t.LineNo))
				if t.SplitGroup != group {
					rl.Warnings = append(rl.Warnings, "split grouping differs from merged line, keeping the first")
				}
				continue
			}
			byFP[fp] = len(res.Tours)
			res.Tours = append(res.Tours, model.NormalizedTour{
				Fingerprint: fp,
				Day:         p.day,
				StartMin:    r[0],
				EndMin:      r[1],
				Depot:       p.depot,
				Skills:      p.skills,
				Count:       p.count,
				SplitGroup:  group,
				LineNo:      rl.LineNo,
			})
		}
		if len(rl.Warnings) > 0 {
			rl.Status = model.LineWarn
			if res.Status == model.ValidationPass {
				res.Status = model.ValidationWarn
			}
		}
		res.Lines = append(res.Lines, rl)
	}
	SortTours(res.Tours)
	return res
}

// checkMerge rejects a line whose count would push a merged duplicate past
// MaxInstances.
func (n *Normalizer) checkMerge(tours []model.NormalizedTour, byFP map[string]int, fps []string, count int) error {
	for _, fp := range fps {
		idx, ok := byFP[fp]
		if !ok {
			continue
		}
		if t := tours[idx]; t.Count+count > n.cfg.MaxInstances {
			return fmt.Errorf("%s: merging with line %d gives %d drivers, more than %d",
				ErrInvalidCount, t.LineNo, t.Count+count, n.cfg.MaxInstances)
		}
	}
	return nil
}

// SortTours orders tours by day, start, end and fingerprint.
func SortTours(ts []model.NormalizedTour) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
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
	})
}

//nolint:gocyclo
func (n *Normalizer) parseLine(line string) (parsedLine, error) {
	p := parsedLine{count: 1, depot: strings.ToUpper(n.cfg.DefaultDepot)}
	// Allow "06:00 - 10:00" and "06:00-10:00 +14:00-18:00".
	norm := strings.NewReplacer(" - ", "-", " -", "-", "- ", "-", "+", " + ").Replace(line)
	toks := strings.Fields(norm)
	if len(toks) < 2 {
		return p, fmt.Errorf("expected day and time range")
	}
	day, err := parseDay(toks[0])
	if err != nil {
		return p, err
	}
	p.day = day
	first, warn, err := n.parseRange(toks[1])
	if err != nil {
		return p, err
	}
	if warn != "" {
		p.warns = append(p.warns, warn)
	}
	p.ranges = append(p.ranges, first)
	rest := toks[2:]
	if len(rest) >= 2 && rest[0] == "+" {
		second, warn, err := n.parseRange(rest[1])
		if err != nil {
			return p, fmt.Errorf("split part: %w", err)
		}
		if warn != "" {
			p.warns = append(p.warns, warn)
		}
		if second[0] < first[0] {
			second[0] += model.MinutesPerDay
			second[1] += model.MinutesPerDay
		}
		if second[0] < first[1] {
			return p, fmt.Errorf("split parts overlap")
		}
		p.ranges = append(p.ranges, second)
		rest = rest[2:]
	}
	seen := make(map[string]bool)
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		low := strings.ToLower(tok)
		switch {
		case tok == "+":
			return p, fmt.Errorf("dangling '+'")
		case strings.HasPrefix(tok, "@"):
			if len(tok) == 1 {
				return p, fmt.Errorf("empty depot")
			}
			p.depot = strings.ToUpper(tok[1:])
		case strings.HasPrefix(tok, "#"):
			if len(tok) == 1 {
				return p, fmt.Errorf("empty skill")
			}
			s := strings.ToLower(tok[1:])
			if !seen[s] {
				seen[s] = true
				p.skills = append(p.skills, s)
			}
		case countRe.MatchString(low):
			if p.count, err = n.count(countRe.FindStringSubmatch(low)[1]); err != nil {
				return p, err
			}
		case isDigits(tok) && i+1 < len(rest) && strings.EqualFold(rest[i+1], "fahrer"):
			if p.count, err = n.count(tok); err != nil {
				return p, err
			}
			i++
		default:
			return p, fmt.Errorf("unexpected token %q", tok)
		}
	}
	sort.Strings(p.skills)
	return p, nil
}

// count parses a driver count in 1..MaxInstances.
func (n *Normalizer) count(tok string) (int, error) {
	c, err := strconv.Atoi(tok)
	if err != nil || c < 1 || c > n.cfg.MaxInstances {
		return 0, fmt.Errorf("%s: driver count %s outside 1..%d", ErrInvalidCount, tok, n.cfg.MaxInstances)
	}
	return c, nil
}

func parseDay(tok string) (int, error) {
	low := strings.ToLower(strings.TrimSuffix(tok, "."))
	if dayRe.MatchString(low) {
		return int(low[0] - '0'), nil
	}
	if d, ok := dayNames[low]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown day %q", tok)
}

// parseRange parses HH:MM-HH:MM, rounds both ends and moves the end past
// midnight when it precedes the start.
func (n *Normalizer) parseRange(tok string) ([2]int, string, error) {
	m := rangeRe.FindStringSubmatch(tok)
	if m == nil {
		return [2]int{}, "", fmt.Errorf("invalid time range %q", tok)
	}
	start, err := clock(m[1], m[2])
	if err != nil {
		return [2]int{}, "", err
	}
	end, err := clock(m[3], m[4])
	if err != nil {
		return [2]int{}, "", err
	}
	rs, re := n.round(start), n.round(end)
	warn := ""
	if rs != start || re != end {
		warn = fmt.Sprintf("times rounded to %d min granularity", n.cfg.GranularityMin)
	}
	if re <= rs {
		re += model.MinutesPerDay
	}
	if re-rs >= model.MinutesPerDay {
		return [2]int{}, "", fmt.Errorf("zero or full-day range %q", tok)
	}
	return [2]int{rs, re}, warn, nil
}

func (n *Normalizer) round(m int) int {
	g := n.cfg.GranularityMin
	return ((m + g/2) / g) * g
}

func clock(h, m string) (int, error) {
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	if mm > 59 || hh > 24 || (hh == 24 && mm != 0) {
		return 0, fmt.Errorf("invalid time %s:%s", h, m)
	}
	return hh*60 + mm, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func canonical(p parsedLine) string {
	var b strings.Builder
	b.WriteString(DayLabel(p.day))
	for i, r := range p.ranges {
		if i > 0 {
			b.WriteString(" +")
		}
		fmt.Fprintf(&b, " %s-%s", model.FormatClock(r[0]), model.FormatClock(r[1]))
	}
	if p.count != 1 {
		fmt.Fprintf(&b, " %dx", p.count)
	}
	if p.depot != "" {
		b.WriteString(" @" + p.depot)
	}
	for _, s := range p.skills {
		b.WriteString(" #" + s)
	}
	return b.String()
}
