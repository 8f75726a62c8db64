// Package api exposes the read-only HTTP status surface of a harvest: health
// probes, Prometheus metrics, live orchestrator progress and persisted run
// history.
package api
