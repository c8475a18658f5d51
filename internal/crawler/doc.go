// Package crawler implements the bounded breadth-first crawl: the frontier,
// the scope, robots and pattern gates, the fetch worker pool and the
// aggregate result, plus the job types shared with the API.
package crawler
