package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedBusFanOut(t *testing.T) {
	bus := NewTyped[string](0)
	a := bus.Subscribe()
	b := bus.Subscribe()

	assert.Equal(t, 2, bus.Publish("plan-1 SOLVING"))
	assert.Equal(t, "plan-1 SOLVING", <-a)
	assert.Equal(t, "plan-1 SOLVING", <-b)

	bus.Unsubscribe(b)
	_, ok := <-b
	assert.False(t, ok)
	assert.Equal(t, 1, bus.Publish("plan-1 SOLVED"))
}

func TestTypedBusCountsDrops(t *testing.T) {
	bus := NewTyped[int](2)
	ch := bus.Subscribe()
	for i := range 5 {
		bus.Publish(i)
	}
	assert.EqualValues(t, 3, bus.Dropped())
	assert.Equal(t, 0, <-ch)
	assert.Equal(t, 1, <-ch)
}

func TestTypedBusClose(t *testing.T) {
	bus := NewTyped[int](0)
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)
	assert.NotPanics(t, func() { bus.Unsubscribe(ch) })
	assert.Zero(t, bus.Publish(1))

	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
