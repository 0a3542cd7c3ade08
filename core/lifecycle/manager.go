// Package lifecycle owns the plan state machine. The Manager ingests
// forecasts, runs solves as cancellable background tasks, audits plans,
// gates locks and answers disruptions with repaired plan versions. Every
// state change is persisted through a store.Store and appended to a
// per-plan event log that clients can replay from any sequence number.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/roster/core/audit"
	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/logger"
	"github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/repair"
	"github.com/kilianp07/roster/core/solver"
	"github.com/kilianp07/roster/core/store"
	"github.com/kilianp07/roster/internal/eventbus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.MetricsSink) Option { return func(m *Manager) { m.sink = s } }

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithIDs overrides plan and forecast id generation.
func WithIDs(next func() string) Option { return func(m *Manager) { m.newID = next } }

// WithPolicy sets the override policy used by audits and repairs.
func WithPolicy(p audit.OverridePolicy) Option { return func(m *Manager) { m.policy = p } }

// WithFreezeWindow sets the freeze window enforced by repairs.
func WithFreezeWindow(w model.FreezeWindow) Option { return func(m *Manager) { m.freeze = w } }

// WithNormalizer sets the forecast parser configuration.
func WithNormalizer(cfg forecast.Config) Option {
	return func(m *Manager) { m.norm = forecast.New(cfg) }
}

// WithDiffCache sets the cache for forecast diffs.
func WithDiffCache(c forecast.DiffCache) Option { return func(m *Manager) { m.cache = c } }

// WithSolver replaces the solver, for instance to enable refinement.
func WithSolver(s *solver.Solver) Option { return func(m *Manager) { m.solver = s } }

// WithEventLog shares an existing event log.
func WithEventLog(l *eventbus.Log[events.Event]) Option { return func(m *Manager) { m.events = l } }

// Manager is the service API of the roster engine. It is safe for
// concurrent use.
type Manager struct {
	store  store.Store
	norm   *forecast.Normalizer
	solver *solver.Solver
	audit  *audit.Engine
	repair *repair.Engine
	cache  forecast.DiffCache
	policy audit.OverridePolicy
	freeze model.FreezeWindow
	events *eventbus.Log[events.Event]
	sink   metrics.MetricsSink
	log    logger.Logger
	now    func() time.Time
	newID  func() string

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// solveMu serialises the duplicate check and creation of plans.
	solveMu sync.Mutex
	// lockMu serialises locks so two plans of a forecast never lock at once.
	lockMu  sync.Mutex
	mu      sync.Mutex
	running map[string]*task
}

// task is a running solve.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager on top of st.
func New(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:   st,
		norm:    forecast.New(forecast.Config{}),
		solver:  solver.New(),
		cache:   forecast.NewMemoryDiffCache(),
		policy:  audit.DefaultPolicy(),
		sink:    metrics.NopSink{},
		log:     logger.Nop(),
		now:     time.Now,
		newID:   uuid.NewString,
		running: make(map[string]*task),
	}
	for _, o := range opts {
		o(m)
	}
	if m.events == nil {
		m.events = eventbus.NewLog[events.Event]()
	}
	m.audit = audit.New(audit.ReproducerFunc(m.reproduce),
		audit.WithPolicy(m.policy), audit.WithClock(m.now), audit.WithLogger(m.log))
	m.repair = repair.New(m.solver, m.freeze, repair.WithPolicy(m.policy), repair.WithLogger(m.log))
	m.ctx, m.stop = context.WithCancel(context.Background())
	return m
}

// EventLog exposes the plan event log to collectors and publishers.
func (m *Manager) EventLog() *eventbus.Log[events.Event] { return m.events }

// Close cancels running solves, waits for them and closes the event log.
// The store is owned by the caller.
func (m *Manager) Close() error {
	m.stop()
	m.wg.Wait()
	m.events.Close()
	return nil
}

// emit appends an event to the plan's log.
func (m *Manager) emit(ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = m.now().UTC()
	}
	m.events.Append(ev.PlanID, ev)
}

// Events returns the events of a plan with Seq >= from.
func (m *Manager) Events(planID string, from int64) []events.Event {
	entries := m.events.Since(planID, from)
	out := make([]events.Event, len(entries))
	for i, e := range entries {
		out[i] = withSeq(e)
	}
	return out
}

// Follow replays the events of a plan from the given sequence number and
// then streams new ones until ctx is done.
func (m *Manager) Follow(ctx context.Context, planID string, from int64) <-chan events.Event {
	in := m.events.Follow(ctx, planID, from)
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		for e := range in {
			select {
			case out <- withSeq(e):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func withSeq(e eventbus.Entry[events.Event]) events.Event {
	ev := e.Value
	ev.Seq = e.Seq
	return ev
}

// Forecast returns a stored forecast version.
func (m *Manager) Forecast(ctx context.Context, id string) (model.ForecastVersion, error) {
	return m.store.Forecast(ctx, id)
}

// Forecasts lists forecast versions in ingestion order.
func (m *Manager) Forecasts(ctx context.Context) ([]model.ForecastVersion, error) {
	return m.store.Forecasts(ctx)
}

// Plan returns a plan version.
func (m *Manager) Plan(ctx context.Context, id string) (model.PlanVersion, error) {
	return m.store.Plan(ctx, id)
}

// Plans lists the plans of a forecast, oldest first. An empty id lists all.
func (m *Manager) Plans(ctx context.Context, forecastID string) ([]model.PlanVersion, error) {
	return m.store.Plans(ctx, forecastID)
}

// Assignments returns the roster of a plan. Plans without a roster yet
// return INVALID_TRANSITION.
func (m *Manager) Assignments(ctx context.Context, planID string) ([]model.Assignment, error) {
	p, err := m.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.Status.HasAssignments() {
		return nil, model.Errorf(model.CodeInvalidTransition, "plan %s is %s and has no roster", planID, p.Status).
			WithDetail("plan_id", planID).
			WithDetail("status", p.Status.String())
	}
	return m.store.Assignments(ctx, planID)
}

// KPIs returns the KPI summary of a plan with a roster.
func (m *Manager) KPIs(ctx context.Context, planID string) (model.KPIs, error) {
	p, err := m.store.Plan(ctx, planID)
	if err != nil {
		return model.KPIs{}, err
	}
	if !p.Status.HasAssignments() {
		return model.KPIs{}, model.Errorf(model.CodeInvalidTransition, "plan %s is %s and has no KPIs", planID, p.Status).
			WithDetail("plan_id", planID)
	}
	return p.KPIs, nil
}

// AuditRecords returns the audit trail of a plan ordered by sequence.
func (m *Manager) AuditRecords(ctx context.Context, planID string) ([]model.AuditRecord, error) {
	return m.store.AuditRecords(ctx, planID)
}

// setStatus moves a plan to status and records the event.
func (m *Manager) setStatus(ctx context.Context, p *model.PlanVersion, s model.PlanStatus, msg string) error {
	next := *p
	next.Status = s
	next.UpdatedAt = m.now().UTC()
	if err := m.store.UpdatePlan(ctx, next); err != nil {
		return err
	}
	*p = next
	m.emit(events.Status(p.ID, s, msg))
	return nil
}
