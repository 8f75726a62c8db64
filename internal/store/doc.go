// Package store defines the persistence contract for harvest progress (run
// and per-year counters). Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package store
