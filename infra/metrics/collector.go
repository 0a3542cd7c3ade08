package metrics

import (
	"context"

	"github.com/kilianp07/roster/core/events"
	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/kilianp07/roster/internal/eventbus"
)

// StartEventCollector subscribes to the plan event log and records round
// progress for sinks implementing RoundRecorder. It stops when the context
// is canceled or the log is closed.
func StartEventCollector(ctx context.Context, log *eventbus.Log[events.Event], sink coremetrics.MetricsSink) {
	if log == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.RoundRecorder)
	if !ok {
		return
	}
	sub := log.Subscribe()
	go func() {
		defer log.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub:
				if !ok {
					return
				}
				ev := e.Value
				if ev.Kind != events.KindProgress || ev.Phase == nil || ev.Metrics == nil {
					continue
				}
				_ = rec.RecordRound(coremetrics.RoundEvent{
					PlanID:     ev.PlanID,
					Phase:      *ev.Phase,
					Metrics:    *ev.Metrics,
					LowerBound: ev.LowerBound,
					Time:       ev.Time,
				})
			}
		}
	}()
}
