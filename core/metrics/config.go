package metrics

import "github.com/kilianp07/roster/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusPort exposes /metrics. It implies a prometheus sink when none
	// is listed.
	PrometheusPort string `json:"prometheus_port"`
	// Depot labels every series of this instance. Sinks that set their own
	// depot keep it.
	Depot string `json:"depot"`
}
