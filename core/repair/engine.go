// Package repair answers a disruption on an existing plan with a new plan
// that changes as little as possible. Every block the disruption does not
// touch is pinned on its driver; the released tours are re-covered by a
// solver sub-solve that prefers existing drivers over new ones.
package repair

import (
	"context"
	"sort"
	"time"

	"github.com/kilianp07/roster/core/audit"
	"github.com/kilianp07/roster/core/blocks"
	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/solver"
)

// Request describes one repair.
type Request struct {
	Parent      model.PlanVersion
	Assignments []model.Assignment
	Tours       []model.NormalizedTour
	WeekAnchor  time.Time
	Config      solver.Config
	Disruption  model.Disruption
	// Now is compared against tour starts for the freeze window.
	Now time.Time
	// Replay bounds the sub-solve when a repair is reproduced.
	Replay *model.Replay
}

// Outcome is a repaired roster with its context.
type Outcome struct {
	Result      *solver.Result
	Context     model.RepairContext
	Adjustments map[string]int
	// Unavailable holds the days each no-show driver is kept off, inherited
	// ones included.
	Unavailable map[string][]int
	// Frozen lists the tours inside the freeze window that the approved
	// override allowed to change.
	Frozen []model.TourKey
	// Locked holds the ids of the blocks kept on their drivers.
	Locked []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the policy approving freeze window overrides.
func WithPolicy(p audit.OverridePolicy) Option { return func(e *Engine) { e.policy = p } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// Engine runs repairs.
type Engine struct {
	solver *solver.Solver
	freeze model.FreezeWindow
	policy audit.OverridePolicy
	log    logger.Logger
}

// New creates an Engine that re-covers released tours with s.
func New(s *solver.Solver, freeze model.FreezeWindow, opts ...Option) *Engine {
	e := &Engine{solver: s, freeze: freeze, policy: audit.DefaultPolicy(), log: logger.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Repair checks the freeze window and computes the repaired roster.
func (e *Engine) Repair(ctx context.Context, req Request) (*Outcome, error) {
	out, err := e.run(ctx, req, true)
	outcome := "ok"
	switch {
	case model.IsCode(err, model.CodeFreezeWindowViolation), model.IsCode(err, model.CodeOverrideRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	}
	repairsTotal.WithLabelValues(req.Disruption.Type.String(), outcome).Inc()
	return out, err
}

// Reproduce recomputes a repair without the freeze window check so that the
// outcome only depends on the stored request.
func (e *Engine) Reproduce(ctx context.Context, req Request) (*Outcome, error) {
	return e.run(ctx, req, false)
}

func (e *Engine) run(ctx context.Context, req Request, checkFreeze bool) (*Outcome, error) {
	switch req.Parent.Status {
	case model.PlanSolved, model.PlanAudited, model.PlanLocked:
	default:
		return nil, model.Errorf(model.CodeInvalidTransition, "cannot repair a %s plan", req.Parent.Status).
			WithDetail("plan_id", req.Parent.ID)
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	p := newPlan(req.Tours, req.Assignments, req.Parent.Adjustments)
	if err := validate(p, req.Disruption); err != nil {
		return nil, err
	}

	for drv, days := range req.Parent.Unavailable {
		p.offDays(drv, days...)
	}
	d := req.Disruption
	switch d.Type {
	case model.EventNoShow:
		p.noShow(d.DriverIDs, d.Day)
	case model.EventDelay:
		p.delay(req.Config.Rules, d.Tours, d.DelayMinutes)
	case model.EventVehicleDown:
		p.takeAway(d.Tours)
	case model.EventManual:
		p.takeAway(d.Tours)
		p.reshuffle(d.DriverIDs)
	}
	released := p.releasedKeys()

	var frozen []model.TourKey
	var approved *model.Override
	if checkFreeze {
		touched := append(append([]model.TourKey(nil), released...), d.Tours...)
		frozen = Frozen(e.freeze, req.WeekAnchor, req.Now, p.tours, req.Parent.Adjustments, dedupe(touched))
		var err error
		if approved, err = e.admit(frozen, d.Override, !req.WeekAnchor.IsZero()); err != nil {
			e.log.Warnf("repair of plan %s rejected: %v", req.Parent.ID, err)
			return nil, err
		}
	}

	pins, err := pinned(p, blocks.New(req.Config.Rules, req.Tours))
	if err != nil {
		return nil, err
	}
	in := solver.Input{
		Tours:       req.Tours,
		Seed:        req.Parent.Seed,
		Previous:    req.Assignments,
		Pinned:      pins,
		Drivers:     driverIDs(req.Assignments),
		Unavailable: p.unavailable,
		Avoid:       p.avoid,
		Adjustments: p.adj,
		Replay:      req.Replay,
	}
	res, err := e.solver.Solve(ctx, req.Config, in)
	if err != nil {
		return nil, err
	}
	churn := Churn(req.Assignments, res.Assignments)
	e.log.Infof("repaired plan %s after %s: %d tours released, %d drivers changed", req.Parent.ID, d.Type, len(released), churn.DriversChanged)

	return &Outcome{
		Result: res,
		Context: model.RepairContext{
			Event:     d.Type,
			Tours:     d.Tours,
			DriverIDs: d.DriverIDs,
			Day:       d.Day,
			Delay:     d.DelayMinutes,
			Churn:     churn,
			Override:  approved,
			Released:  released,
		},
		Adjustments: p.adj,
		Unavailable: p.unavailable,
		Frozen:      frozen,
		Locked:      blockIDs(pins),
	}, nil
}

func validate(p *plan, d model.Disruption) error {
	bad := func(format string, args ...any) error {
		return model.Errorf(model.CodeInputInvalid, format, args...).WithDetail("event", d.Type.String())
	}
	drivers := make(map[string]bool)
	for _, h := range p.hs {
		drivers[h.driver] = true
	}
	for _, k := range d.Tours {
		t, ok := p.tours[k.Fingerprint]
		if !ok || k.Instance < 0 || k.Instance >= t.Count {
			return bad("unknown tour %s", k)
		}
	}
	for _, id := range d.DriverIDs {
		if !drivers[id] {
			return bad("unknown driver %s", id)
		}
	}
	switch d.Type {
	case model.EventNoShow:
		if len(d.DriverIDs) == 0 {
			return bad("no-show needs a driver")
		}
		if d.Day < 0 || d.Day > 7 {
			return bad("day %d out of range", d.Day)
		}
	case model.EventDelay:
		if len(d.Tours) == 0 || d.DelayMinutes == 0 {
			return bad("delay needs tours and a non-zero delay")
		}
	case model.EventVehicleDown:
		if len(d.Tours) == 0 {
			return bad("vehicle down needs tours")
		}
	case model.EventManual:
		if len(d.Tours) == 0 && len(d.DriverIDs) == 0 {
			return bad("manual repair needs tours or drivers")
		}
	default:
		return bad("unknown event type %d", int(d.Type))
	}
	return nil
}

// pinned rebuilds the untouched part of every holding as a locked block.
// A holding reduced by the disruption becomes a smaller block on the same
// driver.
func pinned(p *plan, b *blocks.Builder) ([]solver.Pinned, error) {
	var out []solver.Pinned
	for _, h := range p.hs {
		kept := p.kept(h)
		if len(kept) == 0 {
			continue
		}
		fps := make([]string, len(kept))
		byFP := make(map[string]model.TourKey, len(kept))
		for i, k := range kept {
			fps[i] = k.Fingerprint
			byFP[k.Fingerprint] = k
		}
		blk, err := b.Make(fps)
		if err != nil {
			return nil, model.Errorf(model.CodeInputInvalid, "plan holding of %s on day %d", h.driver, h.day).Wrap(err)
		}
		keys := make([]model.TourKey, len(blk.Tours))
		for i, fp := range blk.Tours {
			keys[i] = byFP[fp]
		}
		out = append(out, solver.Pinned{DriverID: h.driver, Block: blk, Keys: keys})
	}
	return out, nil
}

func blockIDs(pins []solver.Pinned) []string {
	out := make([]string, len(pins))
	for i, p := range pins {
		out[i] = p.Block.ID
	}
	sort.Strings(out)
	return out
}

func driverIDs(as []model.Assignment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range as {
		if !seen[a.DriverID] {
			seen[a.DriverID] = true
			out = append(out, a.DriverID)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(keys []model.TourKey) []model.TourKey {
	seen := make(map[string]bool, len(keys))
	var out []model.TourKey
	for _, k := range keys {
		if !seen[k.String()] {
			seen[k.String()] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
