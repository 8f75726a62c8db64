// Package crawler implements the paper harvesting pipeline: the retrying page
// fetcher, per-year crawler, record admission, result sink and the
// orchestrator that runs years under a shared fetch budget.
package crawler
