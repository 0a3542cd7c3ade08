// Package eventbus provides the in-process fan-out used for plan events:
// a lossy typed bus and a per-topic sequenced log that supports replay.
package eventbus

import (
	"context"
	"sync"
)

// Entry is one sequenced value of a topic. Seq starts at 1 per topic.
type Entry[T any] struct {
	Topic string
	Seq   int64
	Value T
}

// Log is an append-only, per-topic sequenced log with live fan-out. Entries
// are kept for the lifetime of the log so that followers can replay from any
// sequence number.
type Log[T any] struct {
	mu     sync.RWMutex
	topics map[string][]Entry[T]
	bus    *TypedBus[Entry[T]]
}

// liveBuffer is the per-subscriber buffer of a Log.
const liveBuffer = 64

// NewLog creates an empty Log.
func NewLog[T any]() *Log[T] {
	return &Log[T]{topics: make(map[string][]Entry[T]), bus: NewTyped[Entry[T]](liveBuffer)}
}

// Append adds v to topic and publishes the entry.
func (l *Log[T]) Append(topic string, v T) Entry[T] {
	l.mu.Lock()
	e := Entry[T]{Topic: topic, Seq: int64(len(l.topics[topic])) + 1, Value: v}
	l.topics[topic] = append(l.topics[topic], e)
	l.mu.Unlock()
	l.bus.Publish(e)
	return e
}

// Since returns the entries of topic with Seq >= from.
func (l *Log[T]) Since(topic string, from int64) []Entry[T] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.topics[topic]
	if from < 1 {
		from = 1
	}
	if from > int64(len(all)) {
		return nil
	}
	return append([]Entry[T](nil), all[from-1:]...)
}

// Last returns the highest sequence number of topic, or 0.
func (l *Log[T]) Last(topic string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.topics[topic]))
}

// Subscribe returns live entries of every topic. Slow subscribers may miss
// entries; use Follow when gaps matter.
func (l *Log[T]) Subscribe() <-chan Entry[T] { return l.bus.Subscribe() }

// Dropped counts live entries missed by slow subscribers.
func (l *Log[T]) Dropped() uint64 { return l.bus.Dropped() }

// Unsubscribe removes a subscriber.
func (l *Log[T]) Unsubscribe(ch <-chan Entry[T]) { l.bus.Unsubscribe(ch) }

// Follow replays topic from the given sequence number and then streams new
// entries in order without gaps until ctx is done or the log is closed.
func (l *Log[T]) Follow(ctx context.Context, topic string, from int64) <-chan Entry[T] {
	live := l.bus.Subscribe()
	out := make(chan Entry[T], 16)
	go func() {
		defer close(out)
		defer l.bus.Unsubscribe(live)
		next := max(from, 1)
		flush := func() bool {
			for _, e := range l.Since(topic, next) {
				select {
				case out <- e:
					next = e.Seq + 1
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		if !flush() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-live:
				// Any notification may stand for dropped ones; the stored
				// entries are the source of truth.
				if !ok {
					return
				}
				if !flush() {
					return
				}
			}
		}
	}()
	return out
}

// Close stops live delivery. Recorded entries stay readable.
func (l *Log[T]) Close() { l.bus.Close() }
