// Package rules holds the labour constraints shared by the block builder, the
// roster packer, the refinement pass and the audit engine. Every component
// checks feasibility through this package so that a roster accepted by the
// solver is never rejected by the audit for a different reading of the rules.
package rules

import (
	"fmt"

	"github.com/kilianp07/roster/core/model"
)

// Rules are the hard constraints, all expressed in minutes.
type Rules struct {
	MaxToursPerBlock int `json:"max_tours_per_block"`
	MinChangeover    int `json:"min_changeover_minutes"`
	SplitPauseMin    int `json:"split_pause_min_minutes"`
	SplitPauseMax    int `json:"split_pause_max_minutes"`
	MaxSpanRegular   int `json:"max_span_regular_minutes"`
	MaxSpanSplit     int `json:"max_span_split_minutes"`
	MaxDailyWork     int `json:"max_daily_work_minutes"`
	MinDailyRest     int `json:"min_daily_rest_minutes"`
	MaxWorkDays      int `json:"max_work_days"`
	WeeklyCeiling    int `json:"weekly_ceiling_minutes"`
	FTEWeekly        int `json:"fte_weekly_minutes"`
	PTCoreWeekly     int `json:"pt_core_weekly_minutes"`
	LongDay          int `json:"long_day_minutes"`
	MaxLongDays      int `json:"max_consecutive_long_days"`
}

// Default returns the rule set used when nothing is configured.
func Default() Rules {
	var r Rules
	r.SetDefaults()
	return r
}

// SetDefaults fills unset fields.
func (r *Rules) SetDefaults() {
	def := func(v *int, d int) {
		if *v == 0 {
			*v = d
		}
	}
	def(&r.MaxToursPerBlock, 3)
	def(&r.MinChangeover, 30)
	def(&r.SplitPauseMin, 180)
	def(&r.SplitPauseMax, 360)
	def(&r.MaxSpanRegular, 840)
	def(&r.MaxSpanSplit, 960)
	def(&r.MaxDailyWork, 600)
	def(&r.MinDailyRest, 660)
	def(&r.MaxWorkDays, 6)
	def(&r.WeeklyCeiling, 2880)
	def(&r.FTEWeekly, 2100)
	def(&r.PTCoreWeekly, 1200)
	def(&r.LongDay, 540)
	def(&r.MaxLongDays, 4)
}

// Validate checks that the rule set is coherent.
func (r Rules) Validate() error {
	switch {
	case r.MaxToursPerBlock < 1 || r.MaxToursPerBlock > 3:
		return fmt.Errorf("max_tours_per_block must be 1..3, got %d", r.MaxToursPerBlock)
	case r.MinChangeover < 0:
		return fmt.Errorf("min_changeover_minutes must be >= 0")
	case r.SplitPauseMin <= r.MinChangeover:
		return fmt.Errorf("split_pause_min_minutes must exceed min_changeover_minutes")
	case r.SplitPauseMax < r.SplitPauseMin:
		return fmt.Errorf("split_pause_max_minutes must be >= split_pause_min_minutes")
	case r.MaxSpanRegular <= 0 || r.MaxSpanSplit < r.MaxSpanRegular:
		return fmt.Errorf("span limits invalid: regular=%d split=%d", r.MaxSpanRegular, r.MaxSpanSplit)
	case r.MaxDailyWork <= 0:
		return fmt.Errorf("max_daily_work_minutes must be > 0")
	case r.MaxWorkDays < 1 || r.MaxWorkDays > 7:
		return fmt.Errorf("max_work_days must be 1..7")
	case r.WeeklyCeiling < r.MaxDailyWork:
		return fmt.Errorf("weekly_ceiling_minutes must be >= max_daily_work_minutes")
	case r.PTCoreWeekly <= 0 || r.FTEWeekly <= r.PTCoreWeekly:
		return fmt.Errorf("fte_weekly_minutes must exceed pt_core_weekly_minutes > 0")
	case r.MaxLongDays < 1:
		return fmt.Errorf("max_consecutive_long_days must be >= 1")
	}
	return nil
}

// Classify maps weekly worked minutes to a driver class.
func (r Rules) Classify(weekly int) model.DriverClass {
	switch {
	case weekly >= r.FTEWeekly:
		return model.ClassFTE
	case weekly >= r.PTCoreWeekly:
		return model.ClassPTCore
	default:
		return model.ClassPTFlex
	}
}
