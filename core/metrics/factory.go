package metrics

import (
	"fmt"
	"maps"
	"strings"

	"github.com/kilianp07/roster/core/factory"
)

// SinkPrometheus is the sink type implied by a configured PrometheusPort.
const SinkPrometheus = "prometheus"

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a metrics sink factory identified by name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink builds the sinks of cfg and fans out to them. Without any
// sink plan outcomes are dropped.
func NewMetricsSink(cfg Config) (MetricsSink, error) {
	mods, err := cfg.modules()
	if err != nil {
		return nil, err
	}
	sinks := make([]MetricsSink, 0, len(mods))
	for _, m := range mods {
		s, err := sinkRegistry.Create(m)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	}
	return NewMultiSink(sinks...), nil
}

// modules resolves the sink list: one sink per type, an implicit prometheus
// sink behind PrometheusPort and the instance depot handed to every sink.
func (c Config) modules() ([]factory.ModuleConfig, error) {
	seen := make(map[string]bool, len(c.Sinks)+1)
	out := make([]factory.ModuleConfig, 0, len(c.Sinks)+1)
	for _, m := range c.Sinks {
		typ := strings.ToLower(strings.TrimSpace(m.Type))
		if seen[typ] {
			return nil, fmt.Errorf("metrics sink %s configured twice", typ)
		}
		seen[typ] = true
		out = append(out, c.withDepot(factory.ModuleConfig{Type: typ, Conf: m.Conf}))
	}
	if c.PrometheusPort != "" && !seen[SinkPrometheus] {
		out = append(out, c.withDepot(factory.ModuleConfig{Type: SinkPrometheus}))
	}
	return out, nil
}

func (c Config) withDepot(m factory.ModuleConfig) factory.ModuleConfig {
	if c.Depot == "" || m.Type == "nop" {
		return m
	}
	if _, ok := m.Conf["depot"]; ok {
		return m
	}
	conf := maps.Clone(m.Conf)
	if conf == nil {
		conf = make(map[string]any, 1)
	}
	conf["depot"] = c.Depot
	m.Conf = conf
	return m
}
