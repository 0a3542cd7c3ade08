package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/core/rules"
)

func tours(t *testing.T, text string) []model.NormalizedTour {
	t.Helper()
	res := forecast.New(forecast.Config{}).Normalize(text)
	require.NotEqual(t, model.ValidationFail, res.Status, "%+v", res.Lines)
	return res.Tours
}

func byType(bs []model.Block) map[model.BlockType]int {
	out := map[model.BlockType]int{}
	for _, b := range bs {
		out[b.Type]++
	}
	return out
}

func TestAllEnumeratesSinglesAndTriple(t *testing.T) {
	b := New(rules.Default(), tours(t, "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00"))
	all := b.All()
	assert.Equal(t, map[model.BlockType]int{model.BlockSingle: 3, model.BlockDouble: 3, model.BlockTriple: 1}, byType(all))

	var triple model.Block
	for _, blk := range all {
		if blk.Type == model.BlockTriple {
			triple = blk
		}
	}
	assert.Equal(t, 360, triple.WorkMin)
	assert.Equal(t, 420, triple.SpanMin())
	assert.False(t, triple.Split)
	assert.NoError(t, b.Check(triple.Tours))
}

func TestAllIsDeterministic(t *testing.T) {
	text := "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00\nDi 05:00-09:00 + 13:00-17:00\nDi 09:30-12:00 2x"
	a := New(rules.Default(), tours(t, text)).All()
	b := New(rules.Default(), tours(t, text)).All()
	require.Equal(t, a, b)
	assert.Equal(t, len(a), New(rules.Default(), tours(t, text)).Count(0))
	assert.Equal(t, 3, New(rules.Default(), tours(t, text)).Count(3))
}

func TestForcedSingle(t *testing.T) {
	b := New(rules.Default(), tours(t, "Mo 04:00-19:00\nMo 20:00-21:00"))
	all := b.All()
	require.Len(t, b.Forced(), 1)
	var forced []model.Block
	for _, blk := range all {
		if blk.Forced {
			forced = append(forced, blk)
		}
	}
	require.Len(t, forced, 1)
	assert.Equal(t, b.Forced()[0], forced[0].Tours[0])
	for _, blk := range all {
		if len(blk.Tours) > 1 {
			assert.NotContains(t, blk.Tours, b.Forced()[0])
		}
	}
	assert.Error(t, b.Check(forced[0].Tours))
}

func TestSplitPartners(t *testing.T) {
	b := New(rules.Default(), tours(t, "Di 06:00-10:00 + 14:00-18:00"))
	seed := b.Seed()
	var split *model.Block
	for i := range seed {
		if seed[i].Split {
			split = &seed[i]
		}
	}
	require.NotNil(t, split)
	assert.Equal(t, 240, split.PauseMin)
	assert.False(t, b.BreaksSplit(*split))

	single, err := b.Make(split.Tours[:1])
	require.NoError(t, err)
	assert.True(t, b.BreaksSplit(single))
}

func TestSeedGreedyChains(t *testing.T) {
	b := New(rules.Default(), tours(t, "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00"))
	seed := b.Seed()
	assert.Equal(t, 1, byType(seed)[model.BlockTriple])
	assert.Equal(t, 3, byType(seed)[model.BlockSingle])
}

func TestContaining(t *testing.T) {
	ts := tours(t, "Mo 06:00-08:00\nMo 08:30-10:30\nMo 11:00-13:00\nDi 06:00-08:00")
	b := New(rules.Default(), ts)
	fp := b.DayTours(1)[0].Fingerprint
	blks := b.Containing(fp, 0)
	assert.Len(t, blks, 4)
	for _, blk := range blks {
		assert.True(t, blk.Contains(fp))
	}
	assert.Equal(t, model.BlockTriple, blks[0].Type)
	assert.Len(t, b.Containing(fp, 2), 2)
	assert.Nil(t, b.Containing("missing", 0))
}

func TestCheckRejectsCrossDay(t *testing.T) {
	b := New(rules.Default(), tours(t, "Mo 06:00-08:00\nDi 06:00-08:00"))
	all := b.Tours()
	err := b.Check([]string{all[0].Fingerprint, all[1].Fingerprint})
	assert.Error(t, err)
	assert.ErrorIs(t, b.Check([]string{"nope"}), ErrUnknownTour)
}
