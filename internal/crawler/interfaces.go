package crawler

import (
	"context"
	"io"
	"time"
)

// Transport performs a single HTTP GET.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Cache stores fetched bodies keyed by a digest of the normalized URL.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Put(ctx context.Context, key string, entry CacheEntry) error
}

// Fetcher is the PageFetcher contract consumed by YearCrawler.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Extractor turns a detail page into candidate records.
type Extractor interface {
	Extract(body []byte, year int, sourceURL string) ([]PaperRecord, error)
}

// IndexParser turns a year index page into detail and pagination links.
type IndexParser interface {
	ParseIndex(body []byte, pageURL string, year int) (IndexPage, error)
}

// BlobStore writes snapshots and exports and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordStore mirrors accepted records into a database.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID string, records []PaperRecord) (int64, error)
}

// Publisher pushes flush notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter throttles requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
