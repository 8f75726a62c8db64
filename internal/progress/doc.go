// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the harvester uses to report run, year and fetch progress.
// It batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, structured logs or the progress store.
package progress
