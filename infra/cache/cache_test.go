package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/factory"
	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/model"
)

func TestFactoryDefaultsToMemory(t *testing.T) {
	c, err := New(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.IsType(t, &forecast.MemoryDiffCache{}, c)

	ctx := context.Background()
	recs := []model.DiffRecord{{Fingerprint: "fp", Type: model.DiffAdded}}
	require.NoError(t, c.Put(ctx, "a", "b", recs))
	require.NoError(t, c.Put(ctx, "a", "b", nil))
	got, ok, err := c.Get(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, recs, got)

	_, ok, err = c.Get(ctx, "b", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryRejectsBadRedisConfig(t *testing.T) {
	_, err := New(factory.ModuleConfig{Type: "redis"})
	assert.Error(t, err)

	_, err = New(factory.ModuleConfig{Type: "redis", Conf: map[string]any{"addr": "127.0.0.1:1"}})
	assert.Error(t, err)

	_, err = New(factory.ModuleConfig{Type: "memcached"})
	assert.Error(t, err)
}
