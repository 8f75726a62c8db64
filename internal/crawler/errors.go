package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCanceled marks work abandoned because the run context was canceled.
var ErrCanceled = errors.New("crawl canceled")

// ErrDuplicate is returned by Admission when the SourceURL was already accepted.
var ErrDuplicate = errors.New("duplicate source url")

// ErrPermanentTransport is wrapped by Transports for failures that retrying
// cannot fix (blocked by robots.txt, forbidden domain).
var ErrPermanentTransport = errors.New("permanent transport failure")

// FailureKind separates retryable network failures from final ones.
type FailureKind string

// Failure kinds for NetworkError.
const (
	Transient FailureKind = "transient"
	Permanent FailureKind = "permanent"
)

// NetworkError is returned by PageFetcher once it gives up on a URL.
type NetworkError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *NetworkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s network error fetching %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseErrorKind classifies soft extraction failures.
type ParseErrorKind string

// Parse error kinds.
const (
	LayoutUnrecognized ParseErrorKind = "layout_unrecognized"
	FieldMissing       ParseErrorKind = "field_missing"
)

// ParseError is a soft extraction signal. It never aborts a crawl.
type ParseError struct {
	Kind  ParseErrorKind
	URL   string
	Field string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse %s: %s (%s)", e.URL, e.Kind, e.Field)
	}
	return fmt.Sprintf("parse %s: %s", e.URL, e.Kind)
}

// ValidationReject lists why a candidate record was refused.
type ValidationReject struct {
	SourceURL string
	Reasons   []string
}

func (e *ValidationReject) Error() string {
	return fmt.Sprintf("reject %s: %s", e.SourceURL, strings.Join(e.Reasons, "; "))
}

// YearCrawlError is fatal to one year only.
type YearCrawlError struct {
	Year int
	Err  error
}

func (e *YearCrawlError) Error() string {
	return fmt.Sprintf("crawl year %d: %v", e.Year, e.Err)
}

func (e *YearCrawlError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a NetworkError worth retrying.
func IsTransient(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.Kind == Transient
}
