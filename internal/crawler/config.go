package crawler

import (
	"fmt"
	"time"
)

// Default index templates for the CVF open access site.
const (
	DefaultLegacyIndexTemplate  = "https://www.cv-foundation.org/openaccess/content_cvpr_{year}/html/"
	DefaultCurrentIndexTemplate = "https://openaccess.thecvf.com/CVPR{year}"
	DefaultLegacyUntil          = 2015
)

// FetcherConfig controls PageFetcher behavior.
type FetcherConfig struct {
	// Delay is the minimum pause each worker takes before a network attempt.
	Delay time.Duration
	// CacheEnabled toggles the read-through response cache.
	CacheEnabled bool
	Retry        RetryOptions
}

// CrawlConfig governs YearCrawler and Orchestrator behavior.
type CrawlConfig struct {
	// GlobalConcurrency bounds in-flight detail fetches across all years.
	GlobalConcurrency int
	// PerYearConcurrency bounds in-flight detail fetches within one year.
	PerYearConcurrency int
	// MaxIndexPages caps index pagination per year.
	MaxIndexPages        int
	LegacyIndexTemplate  string
	CurrentIndexTemplate string
	// LegacyUntil is the last year served from the legacy template.
	LegacyUntil int
	// PartialPrefix is the blob path prefix for per-year snapshots.
	PartialPrefix string
	// Topic receives YearFlushed notifications when a Publisher is wired.
	Topic string
}

// DefaultCrawlConfig mirrors the configuration defaults.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		GlobalConcurrency:    100,
		PerYearConcurrency:   100,
		MaxIndexPages:        16,
		LegacyIndexTemplate:  DefaultLegacyIndexTemplate,
		CurrentIndexTemplate: DefaultCurrentIndexTemplate,
		LegacyUntil:          DefaultLegacyUntil,
		PartialPrefix:        "partial",
	}
}

// Validate checks for obviously bad configuration combinations.
func (c CrawlConfig) Validate() error {
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("global concurrency must be > 0")
	}
	if c.PerYearConcurrency <= 0 {
		return fmt.Errorf("per-year concurrency must be > 0")
	}
	if c.MaxIndexPages <= 0 {
		return fmt.Errorf("max index pages must be > 0")
	}
	if c.LegacyIndexTemplate == "" || c.CurrentIndexTemplate == "" {
		return fmt.Errorf("index templates must be set")
	}
	return nil
}

// IndexURLFor picks the legacy or current template for year.
func (c CrawlConfig) IndexURLFor(year int) string {
	if year <= c.LegacyUntil {
		return IndexURL(c.LegacyIndexTemplate, year)
	}
	return IndexURL(c.CurrentIndexTemplate, year)
}

// YearCap returns the per-year fan-out limit, never above the global budget.
func (c CrawlConfig) YearCap() int {
	if c.PerYearConcurrency > c.GlobalConcurrency {
		return c.GlobalConcurrency
	}
	return c.PerYearConcurrency
}
