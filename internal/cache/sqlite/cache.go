// Package sqlite stores fetched pages in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// FileName is the database file created inside the cache directory.
const FileName = "pages.db"

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	cache_key   TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	etag        TEXT,
	body        BLOB NOT NULL,
	fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);`

// Cache implements crawler.Cache on SQLite.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens or creates the cache database under dir.
func Open(ctx context.Context, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	// One writer; concurrent fetch workers queue on the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// Close closes the database.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close cache database: %w", err)
	}
	return nil
}

// Get returns the entry for key.
func (c *Cache) Get(ctx context.Context, key string) (crawler.CacheEntry, bool, error) {
	var (
		entry     crawler.CacheEntry
		etag      sql.NullString
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT url, status_code, etag, body, fetched_at FROM pages WHERE cache_key = ?`, key,
	).Scan(&entry.URL, &entry.StatusCode, &etag, &entry.Body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CacheEntry{}, false, nil
	}
	if err != nil {
		return crawler.CacheEntry{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	entry.ETag = etag.String
	entry.FetchedAt = time.Unix(0, fetchedAt).UTC()
	return entry, true, nil
}

// Put inserts or replaces the entry for key.
func (c *Cache) Put(ctx context.Context, key string, entry crawler.CacheEntry) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pages (cache_key, url, status_code, etag, body, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, entry.URL, entry.StatusCode, sql.NullString{String: entry.ETag, Valid: entry.ETag != ""},
		entry.Body, entry.FetchedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Count reports the number of cached pages.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
