package repair

import (
	"time"

	"github.com/kilianp07/roster/core/model"
)

// StartOf returns the wall-clock start of a tour instance. Day 1 is the day
// of the week anchor.
func StartOf(anchor time.Time, t model.NormalizedTour, shift int) time.Time {
	return anchor.AddDate(0, 0, t.Day-1).Add(time.Duration(t.StartMin+shift) * time.Minute)
}

// Frozen returns the keys whose tour starts less than the window threshold
// after now. Tours that already started are frozen too. Without a week
// anchor no start is known and every key is frozen.
func Frozen(w model.FreezeWindow, anchor, now time.Time, tours map[string]model.NormalizedTour, adj map[string]int, keys []model.TourKey) []model.TourKey {
	if w.ThresholdMin <= 0 {
		return nil
	}
	if anchor.IsZero() {
		return append([]model.TourKey(nil), keys...)
	}
	limit := time.Duration(w.ThresholdMin) * time.Minute
	var out []model.TourKey
	for _, k := range keys {
		t, ok := tours[k.Fingerprint]
		if !ok {
			continue
		}
		if StartOf(anchor, t, adj[k.String()]).Sub(now) < limit {
			out = append(out, k)
		}
	}
	return out
}

// admit decides whether frozen tours may be touched. It returns the override
// to log, or nil when nothing was frozen.
func (e *Engine) admit(frozen []model.TourKey, o *model.Override, anchored bool) (*model.Override, error) {
	if len(frozen) == 0 {
		return nil, nil
	}
	keys := make([]string, len(frozen))
	for i, k := range frozen {
		keys[i] = k.String()
	}
	violation := func(format string, args ...any) error {
		err := model.Errorf(model.CodeFreezeWindowViolation, format, args...).
			WithDetail("tours", keys).
			WithDetail("behavior", e.freeze.Behavior.String()).
			WithDetail("threshold_minutes", e.freeze.ThresholdMin)
		if !anchored {
			err = err.WithDetail("week_anchor", "missing")
		}
		return err
	}
	if o == nil {
		if !anchored {
			return nil, violation("forecast has no week anchor; %d tours cannot be checked against the freeze window", len(frozen))
		}
		return nil, violation("%d tours start within the %d minute freeze window", len(frozen), e.freeze.ThresholdMin)
	}
	if e.freeze.Behavior == model.FreezeFrozen && !o.Emergency {
		return nil, violation("frozen tours need an emergency override")
	}
	if err := e.policy.Approve(model.CheckFreezeWindow, *o); err != nil {
		return nil, err
	}
	approved := *o
	return &approved, nil
}
