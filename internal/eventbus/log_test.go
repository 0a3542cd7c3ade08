package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSequencesPerTopic(t *testing.T) {
	l := NewLog[string]()
	assert.Equal(t, int64(1), l.Append("a", "x").Seq)
	assert.Equal(t, int64(2), l.Append("a", "y").Seq)
	assert.Equal(t, int64(1), l.Append("b", "z").Seq)

	got := l.Since("a", 2)
	require.Len(t, got, 1)
	assert.Equal(t, "y", got[0].Value)
	assert.Len(t, l.Since("a", 0), 2)
	assert.Empty(t, l.Since("a", 3))
	assert.Equal(t, int64(2), l.Last("a"))
}

func TestLogFollowReplaysThenStreams(t *testing.T) {
	l := NewLog[int]()
	l.Append("p", 1)
	l.Append("p", 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := l.Follow(ctx, "p", 2)
	first := <-ch
	assert.Equal(t, int64(2), first.Seq)

	for i := 3; i <= 40; i++ {
		l.Append("p", i)
		l.Append("other", i)
	}
	want := int64(3)
	timeout := time.After(2 * time.Second)
	for want <= 40 {
		select {
		case e := <-ch:
			require.Equal(t, want, e.Seq)
			assert.Equal(t, "p", e.Topic)
			want++
		case <-timeout:
			t.Fatalf("stream stalled at seq %d", want)
		}
	}
}

func TestLogFollowStopsOnClose(t *testing.T) {
	l := NewLog[int]()
	ch := l.Follow(context.Background(), "p", 1)
	l.Close()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("follower not closed")
	}
}

func TestLogCountsDroppedLiveEntries(t *testing.T) {
	l := NewLog[int]()
	sub := l.Subscribe()
	defer l.Unsubscribe(sub)
	for i := range liveBuffer + 5 {
		l.Append("p", i)
	}
	assert.EqualValues(t, 5, l.Dropped())
	assert.EqualValues(t, liveBuffer+5, l.Last("p"))
}
