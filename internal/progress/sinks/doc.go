// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and live job counters.
package sinks
