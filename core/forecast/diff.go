package forecast

import (
	"context"
	"sort"
	"sync"

	"github.com/kilianp07/roster/core/model"
)

// Diff compares two tour sets by fingerprint. Records are sorted by
// fingerprint. Since the fingerprint covers day, times, depot and skills, a
// CHANGED record can only concern the instance count or the split grouping.
func Diff(old, cur []model.NormalizedTour) []model.DiffRecord {
	prev := make(map[string]model.NormalizedTour, len(old))
	for _, t := range old {
		prev[t.Fingerprint] = t
	}
	next := make(map[string]model.NormalizedTour, len(cur))
	for _, t := range cur {
		next[t.Fingerprint] = t
	}
	var out []model.DiffRecord
	for fp, n := range next {
		n := n
		o, ok := prev[fp]
		if !ok {
			out = append(out, model.DiffRecord{Fingerprint: fp, Type: model.DiffAdded, New: &n})
			continue
		}
		var fields []string
		if o.Count != n.Count {
			fields = append(fields, "count")
		}
		if (o.SplitGroup == "") != (n.SplitGroup == "") {
			fields = append(fields, "split_group")
		}
		if len(fields) > 0 {
			o := o
			out = append(out, model.DiffRecord{Fingerprint: fp, Type: model.DiffChanged, Old: &o, New: &n, ChangedFields: fields})
		}
	}
	for fp, o := range prev {
		if _, ok := next[fp]; ok {
			continue
		}
		o := o
		out = append(out, model.DiffRecord{Fingerprint: fp, Type: model.DiffRemoved, Old: &o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// DiffCache stores computed diffs per ordered forecast version pair. Entries
// are never mutated once written.
type DiffCache interface {
	Get(ctx context.Context, oldID, newID string) ([]model.DiffRecord, bool, error)
	Put(ctx context.Context, oldID, newID string, recs []model.DiffRecord) error
}

// MemoryDiffCache is an in-process DiffCache.
type MemoryDiffCache struct {
	mu sync.RWMutex
	m  map[string][]model.DiffRecord
}

// NewMemoryDiffCache returns an empty cache.
func NewMemoryDiffCache() *MemoryDiffCache {
	return &MemoryDiffCache{m: make(map[string][]model.DiffRecord)}
}

// CacheKey is the key used for a version pair.
func CacheKey(oldID, newID string) string { return "diff:" + oldID + ":" + newID }

func (c *MemoryDiffCache) Get(_ context.Context, oldID, newID string) ([]model.DiffRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs, ok := c.m[CacheKey(oldID, newID)]
	return recs, ok, nil
}

func (c *MemoryDiffCache) Put(_ context.Context, oldID, newID string, recs []model.DiffRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := CacheKey(oldID, newID)
	if _, ok := c.m[k]; !ok {
		c.m[k] = append([]model.DiffRecord(nil), recs...)
	}
	return nil
}
