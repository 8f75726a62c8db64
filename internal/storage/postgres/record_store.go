package postgres

import (
	"context"
	"fmt"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// RecordStore mirrors accepted papers into Postgres. Rows are keyed by
// (year, source_url) and never overwritten, matching first-wins admission.
type RecordStore struct {
	pool  querier
	table string
}

// NewRecordStore wraps pool. An empty table selects "papers".
func NewRecordStore(pool querier, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "papers"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// SaveRecords inserts records in one transaction and returns how many rows
// were new.
func (s *RecordStore) SaveRecords(ctx context.Context, runID string, records []crawler.PaperRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (year, source_url, title, authors, abstract, pdf_url, supplementary_url, run_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (year, source_url) DO NOTHING`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin record tx: %w", err)
	}
	var inserted int64
	for _, rec := range records {
		tag, err := tx.Exec(ctx, query,
			rec.Year,
			rec.SourceURL,
			rec.Title,
			rec.Authors,
			rec.Abstract,
			nullable(rec.PDFURL),
			nullable(rec.SupplementaryURL),
			runID,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert paper %s: %w", rec.SourceURL, err)
		}
		inserted += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit record tx: %w", err)
	}
	return inserted, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
