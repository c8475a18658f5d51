// Package promote fetches pages over plain HTTP and re-renders them in a
// browser when the response looks like a client-rendered application.
package promote

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
)

// RawFetcher exposes the HTTP outcome before extraction so the body can be
// inspected.
type RawFetcher interface {
	FetchRaw(ctx context.Context, url string) (fetcher.Outcome, int)
}

// Detector decides whether a response needs a browser.
type Detector interface {
	ShouldPromote(statusCode int, body []byte) bool
}

// Fetcher implements crawler.PageFetcher with SPA escalation.
type Fetcher struct {
	http     RawFetcher
	browser  crawler.PageFetcher
	detector Detector
	logger   *zap.Logger
}

// New wires the HTTP fetcher with an optional browser. A nil browser or
// detector disables escalation.
func New(http RawFetcher, browser crawler.PageFetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{http: http, browser: browser, detector: detector, logger: logger}
}

// Fetch downloads url over HTTP. Pages the detector flags are fetched again
// with the browser; if the browser fails the HTTP result is kept. Attempts
// includes the requests of both fetchers.
func (f *Fetcher) Fetch(ctx context.Context, url string) crawler.FetchResult {
	out, attempts := f.http.FetchRaw(ctx, url)
	if !f.shouldPromote(out) {
		return fetcher.BuildResult(url, out, attempts)
	}

	f.logger.Debug("promoting to browser", zap.String("url", url))
	res := f.browser.Fetch(ctx, url)
	if res.Err != "" || res.StatusCode == 0 {
		f.logger.Warn("browser fetch failed, keeping http result",
			zap.String("url", url),
			zap.String("reason", res.Err),
		)
		return fetcher.BuildResult(url, out, attempts+res.Attempts)
	}
	res.Attempts += attempts
	return res
}

func (f *Fetcher) shouldPromote(out fetcher.Outcome) bool {
	if f.browser == nil || f.detector == nil {
		return false
	}
	if out.Transient() || !out.HasResponse() {
		return false
	}
	return f.detector.ShouldPromote(out.Response.StatusCode, out.Response.Body)
}
