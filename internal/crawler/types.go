// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Bounds for the years the harvester understands.
const (
	MinYear = 2015
	MaxYear = 2025

	// MinAbstractLength is the exclusive lower bound on abstract length for a valid record.
	MinAbstractLength = 50
)

// PaperRecord is one scraped paper.
type PaperRecord struct {
	Title            string `json:"title"`
	Authors          string `json:"authors"`
	Abstract         string `json:"abstract"`
	Year             int    `json:"year"`
	SourceURL        string `json:"url"`
	PDFURL           string `json:"pdf_url,omitempty"`
	SupplementaryURL string `json:"supplementary_url,omitempty"`
}

// Page is the result of a PageFetcher call.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	FromCache  bool
	Attempts   int
	Duration   time.Duration
}

// Response is what a Transport returns for a single HTTP exchange. Non-2xx
// statuses are responses, not errors; transport errors are reserved for
// exchanges that never produced a status.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// CacheEntry is a stored response body keyed by normalized URL.
type CacheEntry struct {
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	ETag       string    `json:"etag,omitempty"`
	Body       []byte    `json:"body"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// IndexPage is the parsed content of one year index page.
type IndexPage struct {
	DetailURLs []string
	NextURLs   []string
}

// RunMode selects how the Orchestrator schedules years.
type RunMode string

// Supported run modes.
const (
	RunSequential RunMode = "sequential"
	RunParallel   RunMode = "parallel"
)

// YearStatus is the terminal state of one year's crawl.
type YearStatus string

// Year statuses reported in summaries.
const (
	YearCompleted YearStatus = "completed"
	YearFailed    YearStatus = "failed"
	YearCanceled  YearStatus = "canceled"
)

// YearResult is what a YearCrawler hands back to the Orchestrator.
type YearResult struct {
	Year     int
	Records  []PaperRecord
	Progress ProgressSnapshot
	Elapsed  time.Duration
}

// YearSummary is the per-year line of a run report.
type YearSummary struct {
	Year        int              `json:"year"`
	Status      YearStatus       `json:"status"`
	Records     int              `json:"records"`
	Progress    ProgressSnapshot `json:"progress"`
	Elapsed     time.Duration    `json:"elapsed"`
	Error       string           `json:"error,omitempty"`
	SnapshotURI string           `json:"snapshot_uri,omitempty"`
}

// RunRequest describes one harvest.
type RunRequest struct {
	StartYear int
	EndYear   int
	Mode      RunMode
}

// RunResult is the aggregated output of Orchestrator.Run.
type RunResult struct {
	RunID   string
	Records []PaperRecord
	Years   []YearSummary
	Elapsed time.Duration
}

// FailedYears lists the years that did not complete.
func (r RunResult) FailedYears() []int {
	var out []int
	for _, y := range r.Years {
		if y.Status != YearCompleted {
			out = append(out, y.Year)
		}
	}
	return out
}

// YearFlushed is the notification published after a year snapshot lands.
type YearFlushed struct {
	RunID       string    `json:"run_id"`
	Year        int       `json:"year"`
	Records     int       `json:"records"`
	SnapshotURI string    `json:"snapshot_uri"`
	FlushedAt   time.Time `json:"flushed_at"`
}
