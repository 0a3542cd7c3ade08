// Package metrics defines the sinks that record solve outcomes, round
// progress, audits, overrides, repairs and locks. A sink implements the
// recorder interfaces it supports; callers type-assert before recording.
// NewMetricsSink builds the configured sinks and combines several of them in
// a MultiSink.
package metrics
