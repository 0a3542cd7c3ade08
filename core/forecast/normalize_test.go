package forecast

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/model"
)

const sample = `// week 12
Mo 06:00-08:00 @north
Mo 08:30-10:30 @north #adr
Di 06:00-10:00 + 14:00-18:00 2 Fahrer @north
Mi 22:00-02:00 3x @north
`

func fingerprints(ts []model.NormalizedTour) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Fingerprint
	}
	return out
}

func TestNormalizeSample(t *testing.T) {
	res := New(Config{}).Normalize(sample)
	require.Equal(t, model.ValidationPass, res.Status)
	require.Len(t, res.Tours, 5)
	assert.Equal(t, model.LineSkipped, res.Lines[0].Status)

	split := res.Tours[2:4]
	assert.Equal(t, 2, split[0].Day)
	assert.NotEmpty(t, split[0].SplitGroup)
	assert.Equal(t, split[0].SplitGroup, split[1].SplitGroup)
	assert.Equal(t, 2, split[0].Count)

	night := res.Tours[4]
	assert.Equal(t, 3, night.Day)
	assert.Equal(t, 22*60, night.StartMin)
	assert.Equal(t, 26*60, night.EndMin)
	assert.Equal(t, 3, night.Count)
	assert.Equal(t, "NORTH", night.Depot)
	assert.Equal(t, []string{"adr"}, res.Tours[1].Skills)
	assert.Equal(t, "Di 06:00-10:00 + 14:00-18:00 2x @NORTH", res.Lines[3].Canonical)
}

func TestFingerprintStableAcrossReorder(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(sample), "\n")
	rev := make([]string, len(lines))
	for i, l := range lines {
		rev[len(lines)-1-i] = l
	}
	n := New(Config{})
	a := n.Normalize(sample)
	b := n.Normalize(strings.Join(rev, "\n"))
	assert.Equal(t, fingerprints(a.Tours), fingerprints(b.Tours))

	// Reformatting does not change identity either.
	c := n.Normalize("mon 06:00 - 08:00 @NORTH")
	assert.Equal(t, a.Tours[0].Fingerprint, c.Tours[0].Fingerprint)
}

func TestNormalizeFailuresAreCollected(t *testing.T) {
	res := New(Config{}).Normalize("Mo 06:00-08:00\nXX 06:00-08:00\nMo 25:00-26:00\nMo 06:00-08:00 0x\nDi 07:00-09:00")
	assert.Equal(t, model.ValidationFail, res.Status)
	assert.Len(t, res.Failed(), 3)
	assert.Len(t, res.Tours, 2)
	for _, l := range res.Failed() {
		assert.NotEmpty(t, l.Errors)
	}
}

func TestNormalizeRejectsInvalidCounts(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "overflow", line: "Mo 06:00-08:00 99999999999999999999x"},
		{name: "overflow fahrer", line: "Mo 06:00-08:00 99999999999999999999 Fahrer"},
		{name: "above cap", line: "Mo 06:00-08:00 201x"},
		{name: "zero", line: "Mo 06:00-08:00 0 Fahrer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(Config{}).Normalize(tt.line)
			assert.Equal(t, model.ValidationFail, res.Status)
			assert.Empty(t, res.Tours)
			require.Len(t, res.Failed(), 1)
			assert.Contains(t, res.Failed()[0].Errors[0], ErrInvalidCount)
		})
	}

	res := New(Config{MaxInstances: 3}).Normalize("Mo 06:00-08:00 2x\nMo 06:00-08:00 2 Fahrer\nDi 06:00-08:00 3x")
	assert.Equal(t, model.ValidationFail, res.Status)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, 2, res.Failed()[0].LineNo)
	assert.Contains(t, res.Failed()[0].Errors[0], ErrInvalidCount)
	require.Len(t, res.Tours, 2)
	assert.Equal(t, 2, res.Tours[0].Count)
	assert.Len(t, res.Tours[1].Keys(), 3)
}

func TestNormalizeRoundingAndDuplicates(t *testing.T) {
	res := New(Config{GranularityMin: 15}).Normalize("Mo 06:08-08:00\nMo 06:10-08:00 2x")
	require.Len(t, res.Tours, 1)
	assert.Equal(t, 6*60+15, res.Tours[0].StartMin, "06:08 and 06:10 both round to 06:15")
	assert.Equal(t, 3, res.Tours[0].Count)
	assert.Equal(t, model.ValidationWarn, res.Status)
	assert.Equal(t, model.LineWarn, res.Lines[1].Status)
}

func TestRoundTiesUp(t *testing.T) {
	n := New(Config{GranularityMin: 10})
	assert.Equal(t, 10, n.round(5))
	assert.Equal(t, 0, n.round(4))
}

func TestRulesetHashDependsOnConfig(t *testing.T) {
	assert.Equal(t, New(Config{}).RulesetHash(), New(Config{GranularityMin: 5}).RulesetHash())
	assert.NotEqual(t, New(Config{}).RulesetHash(), New(Config{GranularityMin: 15}).RulesetHash())
}

func TestDiff(t *testing.T) {
	n := New(Config{})
	old := n.Normalize("Mo 06:00-08:00\nMo 09:00-11:00\nDi 06:00-08:00").Tours
	cur := n.Normalize("Mo 06:00-08:00 2x\nDi 06:00-08:00\nMi 06:00-08:00").Tours
	recs := Diff(old, cur)
	got := map[model.DiffType]int{}
	for _, r := range recs {
		got[r.Type]++
		if r.Type == model.DiffChanged {
			assert.Equal(t, []string{"count"}, r.ChangedFields)
			assert.Equal(t, 1, r.Old.Count)
			assert.Equal(t, 2, r.New.Count)
		}
	}
	assert.Equal(t, map[model.DiffType]int{model.DiffAdded: 1, model.DiffRemoved: 1, model.DiffChanged: 1}, got)

	cache := NewMemoryDiffCache()
	ctx := context.Background()
	_, ok, err := cache.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, cache.Put(ctx, "a", "b", recs))
	require.NoError(t, cache.Put(ctx, "a", "b", nil))
	cached, ok, _ := cache.Get(ctx, "a", "b")
	assert.True(t, ok)
	assert.Equal(t, recs, cached)
}
