package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/model"
)

func hm(h, m int) int { return h*60 + m }

func rulesOf(bs []Breach) []Rule {
	out := make([]Rule, len(bs))
	for i, b := range bs {
		out[i] = b.Rule
	}
	return out
}

func TestDefaultsValidate(t *testing.T) {
	r := Default()
	require.NoError(t, r.Validate())
	assert.Equal(t, 3, r.MaxToursPerBlock)

	bad := r
	bad.MaxToursPerBlock = 4
	assert.Error(t, bad.Validate())
	bad = r
	bad.SplitPauseMax = 10
	assert.Error(t, bad.Validate())
}

func TestDayRules(t *testing.T) {
	r := Default()
	cases := []struct {
		name  string
		spans []Span
		want  []Rule
	}{
		{"three short tours", []Span{
			{ID: "a", Start: hm(6, 0), End: hm(8, 0)},
			{ID: "b", Start: hm(8, 30), End: hm(10, 30)},
			{ID: "c", Start: hm(11, 0), End: hm(13, 0)},
		}, nil},
		{"overlap", []Span{{ID: "a", Start: hm(6, 0), End: hm(9, 0)}, {ID: "b", Start: hm(8, 0), End: hm(10, 0)}}, []Rule{RuleOverlap}},
		{"changeover", []Span{{ID: "a", Start: hm(6, 0), End: hm(8, 0)}, {ID: "b", Start: hm(8, 10), End: hm(10, 0)}}, []Rule{RuleChangeover}},
		{"depot", []Span{{ID: "a", Start: hm(6, 0), End: hm(8, 0), Depot: "N"}, {ID: "b", Start: hm(9, 0), End: hm(10, 0), Depot: "S"}}, []Rule{RuleDepot}},
		{"split ok", []Span{{ID: "a", Start: hm(6, 0), End: hm(10, 0)}, {ID: "b", Start: hm(14, 0), End: hm(18, 0)}}, nil},
		{"pause too long", []Span{{ID: "a", Start: hm(5, 0), End: hm(7, 0)}, {ID: "b", Start: hm(14, 0), End: hm(16, 0)}}, []Rule{RulePauseTooLong}},
		{"span regular", []Span{{ID: "a", Start: hm(5, 0), End: hm(20, 0)}}, []Rule{RuleSpanRegular, RuleDailyWork}},
		{"span split", []Span{{ID: "a", Start: hm(4, 0), End: hm(9, 0)}, {ID: "b", Start: hm(14, 0), End: hm(21, 0)}}, []Rule{RuleSpanSplit, RuleDailyWork}},
		{"multiple pauses", []Span{
			{ID: "a", Start: hm(4, 0), End: hm(5, 0)},
			{ID: "b", Start: hm(8, 0), End: hm(9, 0)},
			{ID: "c", Start: hm(12, 0), End: hm(13, 0)},
		}, []Rule{RuleMultiplePauses}},
		{"too many", []Span{
			{ID: "a", Start: hm(6, 0), End: hm(7, 0)},
			{ID: "b", Start: hm(7, 30), End: hm(8, 30)},
			{ID: "c", Start: hm(9, 0), End: hm(10, 0)},
			{ID: "d", Start: hm(10, 30), End: hm(11, 30)},
		}, []Rule{RuleBlockSize}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := r.Day(1, c.spans)
			assert.Equal(t, c.want, nilIfEmpty(rulesOf(got)))
			assert.Equal(t, len(c.want) == 0, r.DayOK(c.spans))
		})
	}
}

func nilIfEmpty(r []Rule) []Rule {
	if len(r) == 0 {
		return nil
	}
	return r
}

func TestShape(t *testing.T) {
	r := Default()
	sh := r.Shape([]Span{{Start: hm(6, 0), End: hm(10, 0)}, {Start: hm(14, 0), End: hm(18, 0)}})
	assert.True(t, sh.Split)
	assert.Equal(t, 240, sh.Pause)
	assert.Equal(t, 480, sh.Work)
	assert.Equal(t, 720, sh.Span())
}

func TestWeekRules(t *testing.T) {
	r := Default()
	ok := []WorkDay{
		{Day: 1, Start: hm(6, 0), End: hm(14, 0), Work: 480},
		{Day: 2, Start: hm(6, 0), End: hm(14, 0), Work: 480},
	}
	assert.Empty(t, r.Week(ok))

	short := []WorkDay{
		{Day: 1, Start: hm(14, 0), End: hm(23, 0), Work: 400},
		{Day: 2, Start: hm(5, 0), End: hm(10, 0), Work: 300},
	}
	assert.Equal(t, []Rule{RuleDailyRest}, rulesOf(r.Week(short)))

	var seven []WorkDay
	for d := 1; d <= 7; d++ {
		seven = append(seven, WorkDay{Day: d, Start: hm(8, 0), End: hm(12, 0), Work: 240})
	}
	assert.Equal(t, []Rule{RuleWorkDays}, rulesOf(r.Week(seven)))

	var long []WorkDay
	for d := 1; d <= 5; d++ {
		long = append(long, WorkDay{Day: d, Start: hm(6, 0), End: hm(16, 0), Work: 580})
	}
	assert.Equal(t, []Rule{RuleConsecutiveLongDays, RuleWeeklyHours}, rulesOf(r.Week(long)))

	assert.True(t, r.WeekOK(ok, WorkDay{Day: 3, Start: hm(6, 0), End: hm(14, 0), Work: 480}))
	assert.False(t, r.WeekOK(short[:1], short[1]))
}

func TestWeekOverlapAcrossMidnight(t *testing.T) {
	r := Default()
	night := WorkDay{Day: 1, Start: hm(22, 0), End: hm(28, 0), Work: 360}
	early := WorkDay{Day: 2, Start: hm(3, 0), End: hm(8, 0), Work: 300}

	assert.Equal(t, -60, RestBetween(night, early))
	assert.False(t, r.RestOK(night, early))
	assert.False(t, r.WeekOK([]WorkDay{night}, early))

	bs := r.Week([]WorkDay{night, early})
	require.Len(t, bs, 1)
	assert.Equal(t, RuleOverlap, bs[0].Rule)
	assert.Equal(t, 2, bs[0].Day)

	apart := WorkDay{Day: 3, Start: hm(3, 0), End: hm(8, 0), Work: 300}
	assert.Equal(t, NotConsecutive, RestBetween(night, apart))
	assert.True(t, r.RestOK(night, apart))
}

func TestClassify(t *testing.T) {
	r := Default()
	assert.Equal(t, model.ClassFTE, r.Classify(2100))
	assert.Equal(t, model.ClassPTCore, r.Classify(1200))
	assert.Equal(t, model.ClassPTFlex, r.Classify(360))
}
