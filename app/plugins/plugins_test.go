package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/refine"
)

func TestNewRefiner(t *testing.T) {
	r, err := NewRefiner(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &refine.Refiner{}, r)

	r, err = NewRefiner(factory.ModuleConfig{Type: "none"})
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = NewRefiner(factory.ModuleConfig{Type: "simulated_annealing"})
	assert.Error(t, err)

	assert.Error(t, RegisterRefiner("none", nil))
}
