package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// RunStatus mirrors the harvest_runs.status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status and harvest_years.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunError    RunStatus = "error"
	RunCanceled RunStatus = "canceled"
)

// Run models one harvest_runs row.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	Records      int64      `json:"records"`
	ErrorMessage *string    `json:"error,omitempty"`
}

// YearStats aggregates fetch and record counters for one year of a run.
type YearStats struct {
	RunID      uuid.UUID `json:"run_id"`
	Year       int       `json:"year"`
	Status     RunStatus `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Fetches    int64     `json:"fetches"`
	BytesTotal int64     `json:"bytes_total"`
	CacheHits  int64     `json:"cache_hits"`
	Fetch2xx   int64     `json:"fetch_2xx"`
	Fetch3xx   int64     `json:"fetch_3xx"`
	Fetch4xx   int64     `json:"fetch_4xx"`
	Fetch5xx   int64     `json:"fetch_5xx"`
	Accepted   int64     `json:"accepted"`
	Rejected   int64     `json:"rejected"`
}

// YearDelta is an increment applied to YearStats.
type YearDelta struct {
	Fetches   int64
	Bytes     int64
	CacheHits int64
	Fetch2xx  int64
	Fetch3xx  int64
	Fetch4xx  int64
	Fetch5xx  int64
	Accepted  int64
	Rejected  int64
}

// IsZero reports whether applying d would change nothing.
func (d YearDelta) IsZero() bool {
	return d == YearDelta{}
}

// ProgressRepository persists incremental harvest progress.
type ProgressRepository interface {
	// UpsertRunStart inserts (or idempotently refreshes) the run row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, records int64, errMsg *string) error
	// UpsertYearStats applies delta to the (run, year) row, creating it if needed.
	UpsertYearStats(ctx context.Context, runID uuid.UUID, year int, delta YearDelta, at time.Time) error
	// SetYearStatus records a year's terminal status.
	SetYearStatus(ctx context.Context, runID uuid.UUID, year int, status RunStatus, at time.Time) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunYears returns the per-year stats of one run, ascending by year.
	ListRunYears(ctx context.Context, runID uuid.UUID) ([]YearStats, error)
}
