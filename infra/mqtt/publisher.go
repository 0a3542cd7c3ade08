package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/monitoring"
	coremqtt "github.com/kilianp07/roster/core/mqtt"
	"github.com/kilianp07/roster/infra/logger"
	"github.com/kilianp07/roster/internal/eventbus"
)

// Publisher mirrors the core mqtt.Publisher interface.
type Publisher = coremqtt.Publisher

// StartEventForwarder publishes every event appended to log until ctx is
// done. It returns when the subscription is established.
func StartEventForwarder(ctx context.Context, log *eventbus.Log[events.Event], pub Publisher) {
	l := logger.New("mqtt_forwarder")
	ch := log.Subscribe()
	go func() {
		defer monitoring.Recover("mqtt_forwarder")
		defer log.Unsubscribe(ch)
		defer func() {
			if n := log.Dropped(); n > 0 {
				l.Warnf("%d live events were dropped by slow subscribers", n)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				ev := e.Value
				ev.Seq = e.Seq
				if err := pub.PublishEvent(ev); err != nil {
					l.Warnf("event %d of plan %s not published: %v", e.Seq, ev.PlanID, err)
				}
			}
		}
	}()
}

// MockPublisher records published events. It is used in tests.
type MockPublisher struct {
	Events  []events.Event
	FailFor map[string]bool
	mu      sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailFor: make(map[string]bool)}
}

// PublishEvent records the event or fails for configured plans.
func (m *MockPublisher) PublishEvent(ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFor[ev.PlanID] {
		return fmt.Errorf("publish failed")
	}
	m.Events = append(m.Events, ev)
	return nil
}

// Published returns a copy of the recorded events.
func (m *MockPublisher) Published() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.Events...)
}

func (m *MockPublisher) Disconnect() {}
