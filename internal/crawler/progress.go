package crawler

import "sync/atomic"

// CrawlProgress holds per-year counters. All methods are safe for concurrent use.
type CrawlProgress struct {
	year            int
	indexPages      atomic.Int64
	detailPages     atomic.Int64
	cacheHits       atomic.Int64
	extracted       atomic.Int64
	accepted        atomic.Int64
	duplicates      atomic.Int64
	rejected        atomic.Int64
	extractFailures atomic.Int64
	errors          atomic.Int64
}

// ProgressSnapshot is an immutable copy of CrawlProgress.
type ProgressSnapshot struct {
	Year            int   `json:"year"`
	IndexPages      int64 `json:"index_pages"`
	DetailPages     int64 `json:"detail_pages"`
	CacheHits       int64 `json:"cache_hits"`
	Extracted       int64 `json:"records_extracted"`
	Accepted        int64 `json:"records_valid"`
	Duplicates      int64 `json:"duplicates"`
	Rejected        int64 `json:"rejected"`
	ExtractFailures int64 `json:"extract_failures"`
	Errors          int64 `json:"errors"`
}

// NewCrawlProgress returns zeroed counters for year.
func NewCrawlProgress(year int) *CrawlProgress {
	return &CrawlProgress{year: year}
}

func (p *CrawlProgress) addPage(index bool, fromCache bool) {
	if index {
		p.indexPages.Add(1)
	} else {
		p.detailPages.Add(1)
	}
	if fromCache {
		p.cacheHits.Add(1)
	}
}

func (p *CrawlProgress) addExtracted(n int) { p.extracted.Add(int64(n)) }
func (p *CrawlProgress) addAccepted()       { p.accepted.Add(1) }
func (p *CrawlProgress) addDuplicate()      { p.duplicates.Add(1) }
func (p *CrawlProgress) addRejected()       { p.rejected.Add(1) }
func (p *CrawlProgress) addExtractFailure() { p.extractFailures.Add(1) }
func (p *CrawlProgress) addError()          { p.errors.Add(1) }

// Snapshot copies the current counter values.
func (p *CrawlProgress) Snapshot() ProgressSnapshot {
	if p == nil {
		return ProgressSnapshot{}
	}
	return ProgressSnapshot{
		Year:            p.year,
		IndexPages:      p.indexPages.Load(),
		DetailPages:     p.detailPages.Load(),
		CacheHits:       p.cacheHits.Load(),
		Extracted:       p.extracted.Load(),
		Accepted:        p.accepted.Load(),
		Duplicates:      p.duplicates.Load(),
		Rejected:        p.rejected.Load(),
		ExtractFailures: p.extractFailures.Load(),
		Errors:          p.errors.Load(),
	}
}
