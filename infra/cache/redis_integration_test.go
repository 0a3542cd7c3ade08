//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roster/core/model"
	"github.com/kilianp07/roster/test/util"
)

func TestRedisDiffCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	addr, cleanup, err := util.StartRedis(ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(cleanup)

	c, err := NewRedisDiffCache(RedisConfig{Addr: addr, Prefix: "test:", TTLSeconds: 60})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.Get(ctx, "f1", "f2")
	require.NoError(t, err)
	assert.False(t, ok)

	old := model.NormalizedTour{Fingerprint: "fp", Day: 1, StartMin: 360, EndMin: 480, Count: 1}
	recs := []model.DiffRecord{{Fingerprint: "fp", Type: model.DiffRemoved, Old: &old}}
	require.NoError(t, c.Put(ctx, "f1", "f2", recs))
	require.NoError(t, c.Put(ctx, "f1", "f2", []model.DiffRecord{{Fingerprint: "other", Type: model.DiffAdded}}))

	got, ok, err := c.Get(ctx, "f1", "f2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recs, got, "the first write wins")

	require.NoError(t, c.Put(ctx, "f2", "f3", nil))
	got, ok, err = c.Get(ctx, "f2", "f3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}
