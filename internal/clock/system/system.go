// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements crawler.Clock. Timestamps are UTC and truncated to the
// configured precision so snapshot JSON stays stable across platforms.
type Clock struct {
	precision time.Duration
}

// New returns a clock truncating to precision; zero keeps full resolution.
func New(precision time.Duration) *Clock {
	return &Clock{precision: precision}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c == nil || c.precision <= 0 {
		return now
	}
	return now.Truncate(c.precision)
}
