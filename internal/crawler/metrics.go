package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts network attempts made by PageFetcher.
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_attempts_total",
		Help: "The total number of network attempts made by the page fetcher.",
	})
	// FetchRetries counts attempts that were scheduled after a transient failure.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_fetch_retries_total",
		Help: "The total number of fetch retries after transient failures.",
	})
	// FetchFailures counts URLs abandoned by PageFetcher, by failure kind.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_fetch_failures_total",
		Help: "The total number of URLs the page fetcher gave up on.",
	}, []string{"kind"})
	// RateLimitHits counts HTTP 429 responses.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvest_rate_limit_hits_total",
		Help: "The total number of times the remote host rate limited the harvester.",
	})
	// CacheLookups counts cache lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_cache_lookups_total",
		Help: "Response cache lookups partitioned by hit or miss.",
	}, []string{"result"})
)
