// Package infra groups the adapters behind the core interfaces: the zerolog
// logger, SQL and in-memory plan stores, the redis diff cache, Prometheus
// and InfluxDB metrics sinks, the failure monitor and the MQTT bridge.
// Nothing in core imports these packages; app wires them together.
package infra
