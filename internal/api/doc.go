// Package api hosts the HTTP server, middleware, and REST handlers for
// crawl jobs. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to submit, GET /v1/crawls to list.
//   - GET /v1/crawls/{crawl_id} for status and live counters.
//   - GET /v1/crawls/{crawl_id}/result?format= and /graph for exports.
//   - POST /v1/crawls/{crawl_id}/cancel.
package api
