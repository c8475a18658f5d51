// Package collyfetcher implements crawler.PageFetcher over plain HTTP using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxRetries  int
	MaxBodySize int
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots rules are enforced by the crawler, so the
// collector never consults robots.txt itself.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
}

// Client returns an http.Client sharing the fetcher's transport and timeout,
// used for robots.txt downloads.
func (f *Fetcher) Client() *http.Client {
	return &http.Client{Transport: f.transport, Timeout: f.cfg.Timeout}
}

// Fetch downloads url with retries and extracts its structure.
func (f *Fetcher) Fetch(ctx context.Context, url string) crawler.FetchResult {
	out, attempts := f.FetchRaw(ctx, url)
	return fetcher.BuildResult(url, out, attempts)
}

// FetchRaw downloads url with retries and returns the final outcome with the
// raw body, plus the number of requests issued.
func (f *Fetcher) FetchRaw(ctx context.Context, url string) (fetcher.Outcome, int) {
	out, attempts := fetcher.Retry(ctx, f.cfg.MaxRetries, func(ctx context.Context) fetcher.Outcome {
		o := f.attempt(ctx, url)
		metrics.ObserveFetchAttempt("http", o.Label())
		return o
	})
	if out.Transient() {
		f.logger.Debug("http fetch gave up",
			zap.String("url", url),
			zap.Int("attempts", attempts),
			zap.Int("status", out.Response.StatusCode),
			zap.String("reason", out.Reason),
		)
	}
	return out, attempts
}

func (f *Fetcher) attempt(ctx context.Context, url string) fetcher.Outcome {
	var (
		resp     fetcher.Response
		received bool
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, &resp, &received, &fetchErr)

	if err := runCollector(ctx, collector, url); err != nil {
		return fetcher.FromError(err)
	}
	if fetchErr != nil {
		return fetcher.FromError(fetchErr)
	}
	if !received {
		return fetcher.Outcome{Kind: fetcher.KindTransient, Reason: fetcher.ReasonRequest}
	}
	return fetcher.FromResponse(resp)
}

func configureCollectorHooks(hooks collectorHooks, resp *fetcher.Response, received *bool, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*resp = fetcher.Response{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			resp.Header = r.Headers.Clone()
		}
		*received = true
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
