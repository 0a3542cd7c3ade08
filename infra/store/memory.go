package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/roster/core/model"
	corestore "github.com/kilianp07/roster/core/store"
)

// MemoryStore keeps everything in process memory. It is the default backend
// and the one used by tests.
type MemoryStore struct {
	mu          sync.RWMutex
	forecasts   map[string]model.ForecastVersion
	order       []string
	plans       map[string]model.PlanVersion
	assignments map[string][]model.Assignment
	audit       map[string][]model.AuditRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forecasts:   make(map[string]model.ForecastVersion),
		plans:       make(map[string]model.PlanVersion),
		assignments: make(map[string][]model.Assignment),
		audit:       make(map[string][]model.AuditRecord),
	}
}

func (s *MemoryStore) PutForecast(_ context.Context, f model.ForecastVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forecasts[f.ID]; ok {
		return model.Errorf(model.CodeInputInvalid, "forecast %s already exists", f.ID)
	}
	s.forecasts[f.ID] = f
	s.order = append(s.order, f.ID)
	return nil
}

func (s *MemoryStore) Forecast(_ context.Context, id string) (model.ForecastVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.forecasts[id]
	if !ok {
		return model.ForecastVersion{}, corestore.NotFound("forecast", id)
	}
	return f, nil
}

func (s *MemoryStore) ForecastByHash(_ context.Context, contentHash, rulesetHash string) (model.ForecastVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		f := s.forecasts[id]
		if f.ContentHash == contentHash && f.RulesetHash == rulesetHash {
			return f, true, nil
		}
	}
	return model.ForecastVersion{}, false, nil
}

func (s *MemoryStore) Forecasts(_ context.Context) ([]model.ForecastVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ForecastVersion, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.forecasts[id])
	}
	return out, nil
}

func (s *MemoryStore) CreatePlan(_ context.Context, p model.PlanVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forecasts[p.ForecastID]; !ok {
		return corestore.NotFound("forecast", p.ForecastID)
	}
	if _, ok := s.plans[p.ID]; ok {
		return model.Errorf(model.CodeInputInvalid, "plan %s already exists", p.ID)
	}
	s.plans[p.ID] = clonePlan(p)
	return nil
}

func (s *MemoryStore) Plan(_ context.Context, id string) (model.PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return model.PlanVersion{}, corestore.NotFound("plan", id)
	}
	return clonePlan(p), nil
}

func (s *MemoryStore) FindPlan(_ context.Context, forecastID, configHash string, seed int64) (model.PlanVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best model.PlanVersion
	found := false
	for _, p := range s.plans {
		if p.ForecastID != forecastID || p.ConfigHash != configHash || p.Seed != seed || p.ParentID != "" {
			continue
		}
		if !found || newer(p, best) {
			best, found = p, true
		}
	}
	return clonePlan(best), found, nil
}

func (s *MemoryStore) Plans(_ context.Context, forecastID string) ([]model.PlanVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PlanVersion
	for _, p := range s.plans {
		if forecastID == "" || p.ForecastID == forecastID {
			out = append(out, clonePlan(p))
		}
	}
	sortPlans(out)
	return out, nil
}

func (s *MemoryStore) UpdatePlan(_ context.Context, p model.PlanVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.plans[p.ID]
	if !ok {
		return corestore.NotFound("plan", p.ID)
	}
	if err := corestore.CheckUpdate(old, p); err != nil {
		return err
	}
	s.plans[p.ID] = clonePlan(p)
	return nil
}

func (s *MemoryStore) CommitPlan(_ context.Context, p model.PlanVersion, as []model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.plans[p.ID]
	if !ok {
		return corestore.NotFound("plan", p.ID)
	}
	_, has := s.assignments[p.ID]
	if err := corestore.CheckCommit(old, p, has); err != nil {
		return err
	}
	stored := make([]model.Assignment, len(as))
	for i, a := range as {
		a.PlanID = p.ID
		stored[i] = a
	}
	s.plans[p.ID] = clonePlan(p)
	s.assignments[p.ID] = stored
	return nil
}

func (s *MemoryStore) Assignments(_ context.Context, planID string) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.plans[planID]; !ok {
		return nil, corestore.NotFound("plan", planID)
	}
	return append([]model.Assignment(nil), s.assignments[planID]...), nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, recs []model.AuditRecord) ([]model.AuditRecord, error) {
	if err := corestore.CheckAppend(recs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if _, ok := s.plans[r.PlanID]; !ok {
			return nil, corestore.NotFound("plan", r.PlanID)
		}
	}
	out := make([]model.AuditRecord, len(recs))
	for i, r := range recs {
		r.Seq = int64(len(s.audit[r.PlanID])) + 1
		s.audit[r.PlanID] = append(s.audit[r.PlanID], r)
		out[i] = r
	}
	return out, nil
}

func (s *MemoryStore) AuditRecords(_ context.Context, planID string) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.plans[planID]; !ok {
		return nil, corestore.NotFound("plan", planID)
	}
	return append([]model.AuditRecord(nil), s.audit[planID]...), nil
}

func (s *MemoryStore) Close() error { return nil }

// clonePlan copies the mutable parts of p so callers cannot edit stored
// state through shared slices.
func clonePlan(p model.PlanVersion) model.PlanVersion {
	p.LockedBlocks = append([]string(nil), p.LockedBlocks...)
	p.Uncovered = append([]model.TourKey(nil), p.Uncovered...)
	p.Rounds = append([]model.RoundMetrics(nil), p.Rounds...)
	p.Config = append([]byte(nil), p.Config...)
	if p.Adjustments != nil {
		adj := make(map[string]int, len(p.Adjustments))
		for k, v := range p.Adjustments {
			adj[k] = v
		}
		p.Adjustments = adj
	}
	if p.Unavailable != nil {
		un := make(map[string][]int, len(p.Unavailable))
		for k, v := range p.Unavailable {
			un[k] = append([]int(nil), v...)
		}
		p.Unavailable = un
	}
	if p.Repair != nil {
		rc := *p.Repair
		p.Repair = &rc
	}
	if p.LockedAt != nil {
		at := *p.LockedAt
		p.LockedAt = &at
	}
	return p
}

func newer(a, b model.PlanVersion) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// sortPlans orders plans oldest first.
func sortPlans(ps []model.PlanVersion) {
	sort.Slice(ps, func(i, j int) bool { return newer(ps[j], ps[i]) })
}
