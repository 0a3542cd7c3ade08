package solver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

// Config holds solver settings. Everything except Workers is part of the
// config hash; Workers only changes wall-clock time, never the output.
type Config struct {
	TimeBudgetMs int `json:"time_budget_ms"`
	MaxRounds    int `json:"max_rounds"`
	StableRounds int `json:"stable_rounds"`
	Workers      int `json:"workers"`

	FTECost         float64 `json:"fte_cost"`
	PTCost          float64 `json:"pt_cost"`
	FTEBlockMinutes int     `json:"fte_block_minutes"`
	SplitBreakCost  float64 `json:"split_break_cost"`

	MaxColumnsPerTour int `json:"max_columns_per_tour"`
	// FullEnumerationLimit seeds the pool with every feasible block when the
	// instance has at most this many.
	FullEnumerationLimit int `json:"full_enumeration_limit"`
	LPMaxColumns         int `json:"lp_max_columns"`
	LPMaxRows            int `json:"lp_max_rows"`

	Rules  rules.Rules  `json:"rules"`
	Refine RefineConfig `json:"refine"`
}

// RefineConfig controls the optional exact and large-neighbourhood passes.
type RefineConfig struct {
	Enabled bool `json:"enabled"`
	// ExactMaxTours is the largest per-day instance count solved exactly.
	ExactMaxTours  int `json:"exact_max_tours"`
	ExactNodeLimit int `json:"exact_node_limit"`
	LNSIterations  int `json:"lns_iterations"`
	Neighborhoods  int `json:"lns_neighborhoods"`
	DestroyDrivers int `json:"lns_destroy_drivers"`
	// MaxTours skips refinement above this many tour instances.
	MaxTours int `json:"max_tours"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	c := Config{TimeBudgetMs: 30000, Refine: RefineConfig{Enabled: true}}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields. TimeBudgetMs is left alone so that an
// explicit zero budget is rejected by Validate.
func (c *Config) SetDefaults() {
	if c.MaxRounds == 0 {
		c.MaxRounds = 25
	}
	if c.StableRounds == 0 {
		c.StableRounds = 3
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.FTECost == 0 {
		c.FTECost = 1
	}
	if c.PTCost == 0 {
		c.PTCost = 1.6
	}
	if c.FTEBlockMinutes == 0 {
		c.FTEBlockMinutes = 360
	}
	if c.SplitBreakCost == 0 {
		c.SplitBreakCost = 0.25
	}
	if c.MaxColumnsPerTour == 0 {
		c.MaxColumnsPerTour = 12
	}
	if c.FullEnumerationLimit == 0 {
		c.FullEnumerationLimit = 2000
	}
	if c.LPMaxColumns == 0 {
		c.LPMaxColumns = 600
	}
	if c.LPMaxRows == 0 {
		c.LPMaxRows = 250
	}
	c.Rules.SetDefaults()
	r := &c.Refine
	if r.ExactMaxTours == 0 {
		r.ExactMaxTours = 12
	}
	if r.ExactNodeLimit == 0 {
		r.ExactNodeLimit = 200000
	}
	if r.LNSIterations == 0 {
		r.LNSIterations = 40
	}
	if r.Neighborhoods == 0 {
		r.Neighborhoods = 4
	}
	if r.DestroyDrivers == 0 {
		r.DestroyDrivers = 2
	}
	if r.MaxTours == 0 {
		r.MaxTours = 5000
	}
}

// Validate rejects configurations that cannot produce a plan. The error
// carries CONFIG_INVALID.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return model.Errorf(model.CodeConfigInvalid, format, args...)
	}
	switch {
	case c.TimeBudgetMs <= 0:
		return fail("time_budget_ms must be > 0")
	case c.MaxRounds < 1:
		return fail("max_rounds must be >= 1")
	case c.StableRounds < 1:
		return fail("stable_rounds must be >= 1")
	case c.Workers < 1:
		return fail("workers must be >= 1")
	case c.FTECost <= 0 || c.PTCost <= 0:
		return fail("fte_cost and pt_cost must be > 0")
	case c.FTEBlockMinutes <= 0:
		return fail("fte_block_minutes must be > 0")
	case c.SplitBreakCost < 0:
		return fail("split_break_cost must be >= 0")
	case c.MaxColumnsPerTour < 1:
		return fail("max_columns_per_tour must be >= 1")
	case c.LPMaxColumns < 1 || c.LPMaxRows < 1:
		return fail("lp limits must be >= 1")
	case c.Refine.Neighborhoods < 1 || c.Refine.DestroyDrivers < 1:
		return fail("refine neighbourhood settings must be >= 1")
	}
	if err := c.Rules.Validate(); err != nil {
		return model.Errorf(model.CodeConfigInvalid, "rules: %v", err).Wrap(err)
	}
	return nil
}

// Budget returns the wall-clock budget.
func (c Config) Budget() time.Duration { return time.Duration(c.TimeBudgetMs) * time.Millisecond }

// Hash identifies the output-relevant part of the configuration.
func (c Config) Hash() string {
	c.Workers = 0
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Encode returns the JSON snapshot stored on a plan.
func (c Config) Encode() json.RawMessage {
	b, _ := json.Marshal(c)
	return b
}

// DecodeConfig restores a snapshot written by Encode.
func DecodeConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) == 0 {
		return c, fmt.Errorf("empty config snapshot")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
