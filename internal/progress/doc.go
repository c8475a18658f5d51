// Package progress carries crawl lifecycle events from the engine to
// pluggable sinks. The Hub batches events on a background goroutine so the
// crawl never waits on logging, metrics or job-store writes.
package progress
