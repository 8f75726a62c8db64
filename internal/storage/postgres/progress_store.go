package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/store"
)

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool querier
}

// NewProgressStore wraps pool.
func NewProgressStore(pool querier) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// UpsertRunStart inserts the run or resets a replayed one to running.
func (s *ProgressStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE harvest_runs.status <> EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *ProgressStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	records int64,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, records = $3, error_message = $4
		WHERE id = $5;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, records, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpsertYearStats adds delta to the (run, year) counters.
func (s *ProgressStore) UpsertYearStats(
	ctx context.Context,
	runID uuid.UUID,
	year int,
	d store.YearDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO harvest_years (run_id, year, last_update, fetches, bytes_total, cache_hits,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, accepted, rejected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (run_id, year) DO UPDATE SET
			last_update = GREATEST(harvest_years.last_update, EXCLUDED.last_update),
			fetches     = harvest_years.fetches + EXCLUDED.fetches,
			bytes_total = harvest_years.bytes_total + EXCLUDED.bytes_total,
			cache_hits  = harvest_years.cache_hits + EXCLUDED.cache_hits,
			fetch_2xx   = harvest_years.fetch_2xx + EXCLUDED.fetch_2xx,
			fetch_3xx   = harvest_years.fetch_3xx + EXCLUDED.fetch_3xx,
			fetch_4xx   = harvest_years.fetch_4xx + EXCLUDED.fetch_4xx,
			fetch_5xx   = harvest_years.fetch_5xx + EXCLUDED.fetch_5xx,
			accepted    = harvest_years.accepted + EXCLUDED.accepted,
			rejected    = harvest_years.rejected + EXCLUDED.rejected;
	`
	_, err := s.pool.Exec(ctx, query,
		runID, year, at,
		d.Fetches, d.Bytes, d.CacheHits,
		d.Fetch2xx, d.Fetch3xx, d.Fetch4xx, d.Fetch5xx,
		d.Accepted, d.Rejected,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert year stats: %w", err)
	}
	return nil
}

// SetYearStatus records the terminal status of a year.
func (s *ProgressStore) SetYearStatus(
	ctx context.Context,
	runID uuid.UUID,
	year int,
	status store.RunStatus,
	at time.Time,
) error {
	query := `
		INSERT INTO harvest_years (run_id, year, status, last_update)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, year) DO UPDATE
		SET status = EXCLUDED.status, last_update = EXCLUDED.last_update;
	`
	if _, err := s.pool.Exec(ctx, query, runID, year, status, at); err != nil {
		return fmt.Errorf("failed to set year status: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ProgressStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, records, error_message
		FROM harvest_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Records,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs, newest first, with optional status filtering.
func (s *ProgressStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, records, error_message
		FROM harvest_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Records,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunYears returns the per-year counters of a run in ascending year order.
func (s *ProgressStore) ListRunYears(ctx context.Context, runID uuid.UUID) ([]store.YearStats, error) {
	query := `
		SELECT run_id, year, status, last_update, fetches, bytes_total, cache_hits,
			fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx, accepted, rejected
		FROM harvest_years
		WHERE run_id = $1
		ORDER BY year;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run years: %w", err)
	}
	defer rows.Close()

	var stats []store.YearStats
	for rows.Next() {
		var st store.YearStats
		if err := rows.Scan(
			&st.RunID,
			&st.Year,
			&st.Status,
			&st.LastUpdate,
			&st.Fetches,
			&st.BytesTotal,
			&st.CacheHits,
			&st.Fetch2xx,
			&st.Fetch3xx,
			&st.Fetch4xx,
			&st.Fetch5xx,
			&st.Accepted,
			&st.Rejected,
		); err != nil {
			return nil, fmt.Errorf("failed to scan year stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run years: %w", err)
	}
	return stats, nil
}
