package metrics

import (
	"github.com/kilianp07/roster/core/factory"
	coremetrics "github.com/kilianp07/roster/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInfluxBucket receives plan series when the influx sink names no
// bucket.
const DefaultInfluxBucket = "roster"

// init registers built-in metrics sinks.
func init() {
	_ = coremetrics.RegisterMetricsSink("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterMetricsSink(coremetrics.SinkPrometheus, func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c struct {
			Depot string `json:"depot"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		// The service exposes /metrics on metrics.prometheus_port.
		return NewPromSinkWithRegistry(coremetrics.Config{Depot: c.Depot}, prometheus.DefaultRegisterer)
	})

	_ = coremetrics.RegisterMetricsSink("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c struct {
			URL    string `json:"url"`
			Token  string `json:"token"`
			Org    string `json:"org"`
			Bucket string `json:"bucket"`
			Depot  string `json:"depot"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Bucket == "" {
			c.Bucket = DefaultInfluxBucket
		}
		return withFallback(NewInfluxSink(c.URL, c.Token, c.Org, c.Bucket).WithDepot(c.Depot)), nil
	})
}
