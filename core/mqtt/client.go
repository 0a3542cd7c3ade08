package mqtt

import (
	"context"
	"time"

	"github.com/kilianp07/roster/core/events"
	"github.com/kilianp07/roster/core/model"
)

// Publisher forwards plan events to a message broker.
type Publisher interface {
	// PublishEvent publishes one plan event.
	PublishEvent(ev events.Event) error
	Disconnect()
}

// DisruptionCommand is a repair request received from the broker.
type DisruptionCommand struct {
	PlanID     string           `json:"plan_id"`
	Disruption model.Disruption `json:"disruption"`
	// Now overrides the freeze window reference time.
	Now time.Time `json:"now,omitempty"`
}

// DisruptionHandler acts on a disruption command.
type DisruptionHandler func(ctx context.Context, cmd DisruptionCommand) error
