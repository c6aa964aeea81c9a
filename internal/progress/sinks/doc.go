// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and run-status bookkeeping for the API.
package sinks
