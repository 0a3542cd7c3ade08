package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to PlanStatus
		ok       bool
	}{
		{PlanQueued, PlanSolving, true},
		{PlanSolving, PlanSolved, true},
		{PlanSolving, PlanFailed, true},
		{PlanSolved, PlanAudited, true},
		{PlanAudited, PlanLocked, true},
		{PlanLocked, PlanSuperseded, true},
		{PlanSolved, PlanLocked, false},
		{PlanLocked, PlanAudited, false},
		{PlanFailed, PlanSolving, false},
		{PlanSuperseded, PlanLocked, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTourKeyRoundTrip(t *testing.T) {
	k := TourKey{Fingerprint: "abc", Instance: 2}
	assert.Equal(t, "abc:2", k.String())
	p, err := ParseTourKey("abc:2")
	require.NoError(t, err)
	assert.Equal(t, k, p)

	p, err = ParseTourKey("abc")
	require.NoError(t, err)
	assert.Equal(t, TourKey{Fingerprint: "abc"}, p)

	_, err = ParseTourKey("abc:x")
	assert.Error(t, err)
}

func TestEnumJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		C CheckName   `json:"c"`
		S AuditStatus `json:"s"`
	}{CheckSpanSplit, AuditOverride})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"SPAN_SPLIT","s":"OVERRIDE"}`, string(b))

	var p Phase
	require.NoError(t, p.UnmarshalText([]byte("set_partition")))
	assert.Equal(t, PhaseSetPartition, p)
	assert.Error(t, p.UnmarshalText([]byte("nope")))
}

func TestFailingChecksUsesLatestRecord(t *testing.T) {
	recs := []AuditRecord{
		{Seq: 1, Check: CheckCoverage, Status: AuditFail},
		{Seq: 2, Check: CheckOverlap, Status: AuditPass},
		{Seq: 3, Check: CheckFatigue, Status: AuditFail},
		{Seq: 4, Check: CheckCoverage, Status: AuditOverride},
	}
	assert.Equal(t, []CheckName{CheckFatigue}, FailingChecks(recs))
}

func TestErrorCodes(t *testing.T) {
	err := fmt.Errorf("lock: %w", Errorf(CodeAuditGateBlocked, "failing checks").WithDetail("checks", []string{"COVERAGE"}))
	assert.Equal(t, CodeAuditGateBlocked, CodeOf(err))
	assert.True(t, errors.Is(err, &Error{Code: CodeAuditGateBlocked}))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.Equal(t, ReasonCode(""), CodeOf(errors.New("plain")))
}

func TestBlockIDStable(t *testing.T) {
	a := BlockID(1, []string{"x", "y"})
	assert.Equal(t, a, BlockID(1, []string{"x", "y"}))
	assert.NotEqual(t, a, BlockID(2, []string{"x", "y"}))
	assert.Len(t, a, 16)
}
