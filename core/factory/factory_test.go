package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	Addr    string
	Retries int
	Timeout time.Duration
}

type backendConf struct {
	Addr    string        `json:"addr"`
	Retries int           `json:"retries"`
	Timeout time.Duration `json:"timeout"`
}

func newBackend(conf map[string]any) (*backend, error) {
	var c backendConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	return &backend{Addr: c.Addr, Retries: c.Retries, Timeout: c.Timeout}, nil
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*backend]()
	require.NoError(t, reg.Register("Redis", newBackend))

	b, err := reg.Create(ModuleConfig{Type: "redis", Conf: map[string]any{
		"addr":    "localhost:6379",
		"retries": "3",
		"timeout": "1500ms",
	}})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", b.Addr)
	assert.Equal(t, 3, b.Retries)
	assert.Equal(t, 1500*time.Millisecond, b.Timeout)

	b, err = reg.Create(ModuleConfig{Type: "REDIS"})
	require.NoError(t, err)
	assert.Empty(t, b.Addr)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[*backend]()
	require.NoError(t, reg.Register("memory", newBackend))
	require.NoError(t, reg.Register("redis", newBackend))

	assert.Error(t, reg.Register("memory", newBackend))
	assert.Error(t, reg.Register("sqlite", nil))
	assert.Error(t, reg.Register(" ", newBackend))
	assert.Equal(t, []string{"memory", "redis"}, reg.Types())

	_, err := reg.Create(ModuleConfig{Type: "mongo"})
	assert.ErrorContains(t, err, `unknown module type "mongo" (known: memory, redis)`)

	_, err = reg.Create(ModuleConfig{Type: "redis", Conf: map[string]any{"adress": "typo"}})
	assert.ErrorContains(t, err, "adress")
}
