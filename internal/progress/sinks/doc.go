// Package sinks implements progress consumers: structured logging, Prometheus
// collectors and a repository-backed store. Each satisfies progress.Sink.
package sinks
