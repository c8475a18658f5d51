// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

const (
	defaultNavTimeout  = 45 * time.Second
	defaultQuietPeriod = 500 * time.Millisecond
	maxIdleWait        = 10 * time.Second
	idlePollInterval   = 50 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxRetries        int
	Headless          bool
	WaitUntil         string
	ViewportWidth     int
	ViewportHeight    int
	// QuietPeriod is how long the network must stay idle before a
	// "networkidle" wait completes.
	QuietPeriod time.Duration
}

// Fetcher implements crawler.PageFetcher using chromedp and Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// NewChromedp creates a browser fetcher backed by chromedp. Chrome is only
// started on the first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = defaultQuietPeriod
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.WaitUntil = normalizeWaitUntil(cfg.WaitUntil)

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Close shuts down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders url in the browser with retries and extracts its structure
// from the rendered DOM. XHR and fetch calls observed during the load are
// reported ahead of endpoints found in inline scripts.
func (f *Fetcher) Fetch(ctx context.Context, url string) crawler.FetchResult {
	var captured []extract.Endpoint
	out, attempts := fetcher.Retry(ctx, f.cfg.MaxRetries, func(ctx context.Context) fetcher.Outcome {
		o, eps := f.attempt(ctx, url)
		captured = eps
		metrics.ObserveFetchAttempt("browser", o.Label())
		return o
	})
	if out.Transient() {
		f.logger.Debug("browser fetch gave up",
			zap.String("url", url),
			zap.Int("attempts", attempts),
			zap.Int("status", out.Response.StatusCode),
			zap.String("reason", out.Reason),
		)
	}

	res := fetcher.BuildResult(url, out, attempts)
	res.UsedBrowser = true
	if out.HasResponse() && out.Response.StatusCode < 400 {
		var set extract.EndpointSet
		set.Merge(captured)
		set.Merge(res.APIEndpoints)
		res.APIEndpoints = set.Items()
	}
	return res
}

func (f *Fetcher) attempt(ctx context.Context, url string) (fetcher.Outcome, []extract.Endpoint) {
	if err := f.acquire(ctx); err != nil {
		return fetcher.FromError(err), nil
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()

	capture := newPageCapture()
	chromedp.ListenTarget(tabCtx, capture.handle)

	var html, finalURL string
	err := chromedp.Run(tabCtx,
		f.setupAction(),
		f.navigateAction(url, capture),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return fetcher.FromError(ctx.Err()), nil
		}
		return fetcher.Outcome{Kind: fetcher.KindTransient, Reason: browserReason(err)}, nil
	}

	status, headers, responseURL := capture.snapshotWithFallbacks(url, finalURL)
	out := fetcher.FromResponse(fetcher.Response{
		FinalURL:   responseURL,
		StatusCode: status,
		Header:     headers,
		Body:       []byte(html),
	})
	return out, capture.endpoints()
}

func (f *Fetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if f.cfg.ViewportWidth > 0 && f.cfg.ViewportHeight > 0 {
			viewport := chromedp.EmulateViewport(int64(f.cfg.ViewportWidth), int64(f.cfg.ViewportHeight))
			if err := viewport.Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

// navigateAction loads url and blocks until the configured wait condition
// holds.
func (f *Fetcher) navigateAction(url string, capture *pageCapture) chromedp.Action {
	switch f.cfg.WaitUntil {
	case crawler.WaitCommit:
		return commitNavigation(url)
	case crawler.WaitDOMContentLoaded:
		return chromedp.Tasks{
			commitNavigation(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}
	case crawler.WaitNetworkIdle:
		return chromedp.Tasks{
			chromedp.Navigate(url),
			chromedp.ActionFunc(func(ctx context.Context) error {
				return waitNetworkIdle(ctx, capture, f.cfg.QuietPeriod, f.idleCap())
			}),
		}
	default:
		return chromedp.Navigate(url)
	}
}

// commitNavigation returns once the navigation is committed, without waiting
// for the load event.
func commitNavigation(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, _, err := page.Navigate(url).Do(ctx)
		switch {
		case err != nil:
			return fmt.Errorf("navigate: %w", err)
		case errorText != "":
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	})
}

// waitNetworkIdle polls until no request has been in flight for quiet. After
// limit it gives up waiting and lets the caller read the DOM as it is.
func waitNetworkIdle(ctx context.Context, capture *pageCapture, quiet, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if capture.idleFor(time.Now()) >= quiet || time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) idleCap() time.Duration {
	limit := f.navTimeout() / 2
	if limit > maxIdleWait {
		limit = maxIdleWait
	}
	return limit
}

func normalizeWaitUntil(mode string) string {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case crawler.WaitLoad, crawler.WaitDOMContentLoaded, crawler.WaitNetworkIdle, crawler.WaitCommit:
		return m
	default:
		return crawler.WaitLoad
	}
}

// browserReason maps Chrome net error codes onto the shared failure reasons.
func browserReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ERR_TIMED_OUT"), strings.Contains(msg, "ERR_CONNECTION_TIMED_OUT"):
		return fetcher.ReasonTimeout
	case strings.Contains(msg, "ERR_CONNECTION_REFUSED"),
		strings.Contains(msg, "ERR_CONNECTION_RESET"),
		strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"),
		strings.Contains(msg, "ERR_ADDRESS_UNREACHABLE"):
		return fetcher.ReasonConnect
	}
	return fetcher.ReasonFor(err)
}

// pageCapture records what the browser reports over the network domain while
// a page loads: the document response, in-flight requests and script-issued
// API calls.
type pageCapture struct {
	mu           sync.Mutex
	status       int
	headers      http.Header
	url          string
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	calls        extract.EndpointSet
}

func newPageCapture() *pageCapture {
	return &pageCapture{
		headers:      http.Header{},
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

func (c *pageCapture) handle(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.requestStarted(ev)
	case *network.EventResponseReceived:
		c.captureResponse(ev)
	case *network.EventLoadingFinished:
		c.requestDone(ev.RequestID)
	case *network.EventLoadingFailed:
		c.requestDone(ev.RequestID)
	}
}

func (c *pageCapture) requestStarted(ev *network.EventRequestWillBeSent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[ev.RequestID] = struct{}{}
	c.lastActivity = time.Now()
	if ev.Request == nil {
		return
	}
	var source string
	switch ev.Type {
	case network.ResourceTypeXHR:
		source = "xhr"
	case network.ResourceTypeFetch:
		source = "fetch"
	default:
		return
	}
	c.calls.Add(extract.Endpoint{URL: ev.Request.URL, Method: ev.Request.Method, Source: source})
}

func (c *pageCapture) requestDone(id network.RequestID) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *pageCapture) captureResponse(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != 0 {
		// Later documents belong to iframes.
		return
	}
	c.status = int(event.Response.Status)
	c.headers = headers
	c.url = event.Response.URL
}

// idleFor reports how long no request has been in flight, as of now.
func (c *pageCapture) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inflight) > 0 {
		return 0
	}
	return now.Sub(c.lastActivity)
}

func (c *pageCapture) endpoints() []extract.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls.Items()
}

// snapshotWithFallbacks returns the document status, headers and URL. When no
// document response was seen the browser location stands in for the URL and
// the status is assumed to be 200.
func (c *pageCapture) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	c.mu.Lock()
	status, headers, url := c.status, c.headers.Clone(), c.url
	c.mu.Unlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
