package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type solveOnly struct{ count int }

func (s *solveOnly) RecordSolveResult(SolveResult) error {
	s.count++
	return nil
}

type rounds struct {
	solveOnly
	seen []RoundEvent
}

func (r *rounds) RecordRound(ev RoundEvent) error {
	r.seen = append(r.seen, ev)
	return nil
}

func TestMultiSink(t *testing.T) {
	plain := &solveOnly{}
	rec := &rounds{}
	m := NewMultiSink(plain, rec)

	require.NoError(t, m.RecordSolveResult(SolveResult{PlanID: "p"}))
	require.NoError(t, m.RecordRound(RoundEvent{PlanID: "p"}))
	require.NoError(t, m.RecordAudit(AuditEvent{PlanID: "p"}))

	assert.Equal(t, 1, plain.count)
	assert.Equal(t, 1, rec.count)
	assert.Len(t, rec.seen, 1)
}
