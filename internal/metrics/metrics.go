// Package metrics exposes Prometheus collectors for crawls and the API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerBytesTotal          *prometheus.CounterVec
	crawlerFetchAttemptsTotal  *prometheus.CounterVec
	crawlerSkippedURLsTotal    *prometheus.CounterVec
	crawlerFrontierSize        prometheus.Gauge
	crawlerActiveWorkers       prometheus.Gauge
	crawlerCrawlsTotal         *prometheus.CounterVec
	crawlerPacerWaitSeconds    prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecrawler_pages_total",
				Help: "Total number of pages recorded, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecrawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecrawler_fetch_attempts_total",
				Help: "Total number of requests issued for pages, labeled by fetcher and outcome.",
			},
			[]string{"fetcher", "outcome"},
		)

		crawlerSkippedURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecrawler_skipped_urls_total",
				Help: "Total number of dequeued URLs that were not fetched, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerFrontierSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitecrawler_frontier_size",
				Help: "Number of entries waiting in the most recently updated frontier.",
			},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitecrawler_active_workers",
				Help: "Number of fetch workers currently processing a page.",
			},
		)

		crawlerCrawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecrawler_crawls_total",
				Help: "Total number of crawls finished, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerPacerWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitecrawler_pacer_wait_seconds",
				Help:    "Histogram of time spent waiting for the request delay.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// StatusClass buckets an HTTP status code into "2xx", "3xx", ... and
// "error" for transport failures reported as status 0.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one stored page.
func ObservePage(site string, statusCode int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt records one request issued by a fetcher.
func ObserveFetchAttempt(fetcher, outcome string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(fetcher, outcome).Inc()
}

// ObserveSkip records a URL turned away by a crawl gate.
func ObserveSkip(reason string) {
	Init()
	crawlerSkippedURLsTotal.WithLabelValues(reason).Inc()
}

// SetFrontierSize reports the current frontier length.
func SetFrontierSize(n int) {
	Init()
	crawlerFrontierSize.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveCrawl increments the finished-crawl counter for the given status.
func ObserveCrawl(status string) {
	Init()
	crawlerCrawlsTotal.WithLabelValues(status).Inc()
}

// ObservePacerWait records how long a fetch waited for the request delay.
func ObservePacerWait(duration time.Duration) {
	Init()
	crawlerPacerWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
