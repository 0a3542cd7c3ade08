package scenarios

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/model"
)

func TestScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("scenarios run full solves")
	}
	files, err := filepath.Glob("*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		sc, err := Load(f)
		require.NoError(t, err, f)
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("no-file.yaml")
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(":"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	require.NoError(t, os.WriteFile(unnamed, []byte("forecast: Mo 06:00-08:00\n"), 0o600))
	_, err = Load(unnamed)
	assert.ErrorContains(t, err, "name is required")
}

func TestSolverConfig(t *testing.T) {
	sc := &Scenario{Name: "cfg", Solver: map[string]any{
		"time_budget_ms": 1500,
		"refine":         map[string]any{"enabled": true},
	}}
	cfg, err := sc.SolverConfig()
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.TimeBudgetMs)
	assert.True(t, cfg.Refine.Enabled)

	cfg, err = (&Scenario{Name: "plain"}).SolverConfig()
	require.NoError(t, err)
	assert.False(t, cfg.Refine.Enabled)
}

func TestDisruptionRanks(t *testing.T) {
	as := []model.Assignment{
		{DriverID: "DRV-001", Tour: model.TourKey{Fingerprint: "a"}},
		{DriverID: "DRV-002", Tour: model.TourKey{Fingerprint: "b", Instance: 1}},
	}
	r := RepairDef{
		Type:        "delay",
		DriverRanks: []int{1},
		TourRanks:   []int{1},
		Delay:       30,
		Override:    &OverrideDef{Actor: "ops", Justification: "traffic jam on the A7"},
	}
	d, err := r.disruption(as)
	require.NoError(t, err)
	assert.Equal(t, model.EventDelay, d.Type)
	assert.Equal(t, []string{"DRV-002"}, d.DriverIDs)
	assert.Equal(t, []model.TourKey{{Fingerprint: "b", Instance: 1}}, d.Tours)
	assert.Equal(t, 30, d.DelayMinutes)
	require.NotNil(t, d.Override)
	assert.Equal(t, "ops", d.Override.Actor)

	_, err = RepairDef{Type: "NO_SHOW", DriverRanks: []int{5}}.disruption(as)
	assert.ErrorContains(t, err, "out of range")
	_, err = RepairDef{Type: "STRIKE"}.disruption(as)
	assert.Error(t, err)
}
