// Package system provides the wall clock used for crawl and job timestamps.
package system

import "time"

// Resolution is the precision kept by Clock. Postgres timestamptz stores
// microseconds, so coarser values round-trip through the job store unchanged.
const Resolution = time.Microsecond

// Clock implements crawler.Clock on the wall clock, in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Resolution.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Resolution)
}

// Fixed is a clock that always reports the same instant.
type Fixed struct {
	At time.Time
}

// Now returns f.At.
func (f Fixed) Now() time.Time { return f.At }
