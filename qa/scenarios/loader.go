package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
)

// Expected holds the assertions checked after a solve or a repair. Zero
// values are not checked.
type Expected struct {
	Status         string            `yaml:"status"`
	Uncovered      *int              `yaml:"uncovered,omitempty"`
	MaxDrivers     int               `yaml:"max_drivers,omitempty"`
	MinCoveragePct float64           `yaml:"min_coverage_pct,omitempty"`
	Audit          map[string]string `yaml:"audit,omitempty"`
	// Error is the error code the step must fail with.
	Error string `yaml:"error,omitempty"`
}

// OverrideDef approves changes inside the freeze window.
type OverrideDef struct {
	Actor         string `yaml:"actor"`
	Justification string `yaml:"justification"`
	Emergency     bool   `yaml:"emergency,omitempty"`
}

// RepairDef describes one disruption applied to the latest plan. Drivers and
// tours are picked by their rank in the sorted roster export since their ids
// are only known after the solve.
type RepairDef struct {
	Type        string       `yaml:"type"`
	DriverRanks []int        `yaml:"driver_ranks,omitempty"`
	TourRanks   []int        `yaml:"tour_ranks,omitempty"`
	Day         int          `yaml:"day,omitempty"`
	Delay       int          `yaml:"delay_minutes,omitempty"`
	Now         string       `yaml:"now,omitempty"`
	Override    *OverrideDef `yaml:"override,omitempty"`
	Expected    Expected     `yaml:"expected"`
}

type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	WeekAnchor  string         `yaml:"week_anchor"`
	Forecast    string         `yaml:"forecast"`
	Seed        int64          `yaml:"seed"`
	Solver      map[string]any `yaml:"solver,omitempty"`
	Lock        bool           `yaml:"lock,omitempty"`
	Expected    Expected       `yaml:"expected"`
	Repairs     []RepairDef    `yaml:"repairs,omitempty"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}

// Anchor parses the week anchor. An empty anchor is the zero time.
func (s *Scenario) Anchor() (time.Time, error) {
	if s.WeekAnchor == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s.WeekAnchor)
}

// SolverConfig applies the scenario's overrides onto the default solver
// configuration. Refinement is off unless the scenario enables it.
func (s *Scenario) SolverConfig() (solver.Config, error) {
	cfg := solver.DefaultConfig()
	cfg.Refine.Enabled = false
	if len(s.Solver) > 0 {
		if err := factory.Decode(s.Solver, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

// disruption resolves ranks against the sorted roster of the plan.
func (r RepairDef) disruption(as []model.Assignment) (model.Disruption, error) {
	ev, err := model.ParseEventType(r.Type)
	if err != nil {
		return model.Disruption{}, err
	}
	d := model.Disruption{Type: ev, Day: r.Day, DelayMinutes: r.Delay}
	for _, i := range r.DriverRanks {
		if i < 0 || i >= len(as) {
			return d, fmt.Errorf("driver rank %d out of range", i)
		}
		d.DriverIDs = append(d.DriverIDs, as[i].DriverID)
	}
	for _, i := range r.TourRanks {
		if i < 0 || i >= len(as) {
			return d, fmt.Errorf("tour rank %d out of range", i)
		}
		d.Tours = append(d.Tours, as[i].Tour)
	}
	if r.Override != nil {
		d.Override = &model.Override{
			Actor:         r.Override.Actor,
			Justification: r.Override.Justification,
			Emergency:     r.Override.Emergency,
		}
	}
	return d, nil
}
