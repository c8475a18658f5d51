package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitecrawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitecrawler/internal/fetcher/promote"
	"github.com/JakeFAU/sitecrawler/internal/headless/detector"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/publisher"
	pgstore "github.com/JakeFAU/sitecrawler/internal/storage/postgres"
)

// Runner assembles a fetch stack and page sinks for each crawl and runs the
// engine. It is shared by the crawl command and the API workers.
type Runner struct {
	Logger  *zap.Logger
	Emitter progress.Emitter
	Clock   crawler.Clock
	IDs     crawler.IDGenerator
	// Pages persists every page row when set.
	Pages *pgstore.PageStore
	// Publisher receives one message per page on PagesTopic when set.
	Publisher  crawler.Publisher
	PagesTopic string
	// NewBrowser overrides the chromedp fetcher constructor in tests.
	NewBrowser func(cfg crawler.Config, logger *zap.Logger) (BrowserFetcher, error)
}

// BrowserFetcher is a page fetcher holding a browser process.
type BrowserFetcher interface {
	crawler.PageFetcher
	Close()
}

// Run crawls cfg. An empty crawlID is replaced with a generated one.
func (r *Runner) Run(ctx context.Context, crawlID string, cfg crawler.Config) (crawler.Result, error) {
	if err := cfg.Validate(); err != nil {
		return crawler.Result{}, fmt.Errorf("invalid crawl config: %w", err)
	}
	if crawlID == "" && r.IDs != nil {
		id, err := r.IDs.NewID()
		if err != nil {
			return crawler.Result{}, fmt.Errorf("generate crawl id: %w", err)
		}
		crawlID = id
	}
	logger := logging.ForCrawl(r.Logger, crawlID, cfg.TargetURL)

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	}, logger.Named("colly"))

	var fetch crawler.PageFetcher = httpFetcher
	if cfg.Browser.Enabled {
		browser, err := r.newBrowser(cfg, logger.Named("chromedp"))
		if err != nil {
			return crawler.Result{}, fmt.Errorf("init browser fetcher: %w", err)
		}
		defer browser.Close()
		if cfg.Browser.AutoDetectSPA {
			fetch = promote.New(httpFetcher, browser, detector.NewHeuristic(detector.DefaultScriptThreshold), logger)
		} else {
			fetch = browser
		}
	}

	sinks, err := r.sinks(crawlID)
	if err != nil {
		return crawler.Result{}, err
	}

	engine, err := crawler.NewEngine(cfg, crawler.Deps{
		Fetcher:      fetch,
		RobotsClient: httpFetcher.Client(),
		Sinks:        sinks,
		Emitter:      r.Emitter,
		Logger:       logger,
		Clock:        r.Clock,
		IDs:          r.IDs,
		CrawlID:      crawlID,
	})
	if err != nil {
		return crawler.Result{}, fmt.Errorf("init engine: %w", err)
	}
	res, err := engine.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("run crawl: %w", err)
	}
	return res, nil
}

func (r *Runner) newBrowser(cfg crawler.Config, logger *zap.Logger) (BrowserFetcher, error) {
	if r.NewBrowser != nil {
		return r.NewBrowser(cfg, logger)
	}
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		Headless:          cfg.Browser.Headless,
		WaitUntil:         cfg.Browser.WaitUntil,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
	}, logger)
	if err != nil {
		return nil, err
	}
	return browser, nil
}

func (r *Runner) sinks(crawlID string) ([]crawler.PageSink, error) {
	var sinks []crawler.PageSink
	if r.Pages != nil {
		sinks = append(sinks, r.Pages.ForCrawl(crawlID))
	}
	if r.Publisher != nil && r.PagesTopic != "" {
		sink, err := publisher.NewPageSink(r.Publisher, r.PagesTopic, crawlID)
		if err != nil {
			return nil, fmt.Errorf("init page publisher: %w", err)
		}
		sinks = append(sinks, sink)
	}
	return sinks, nil
}
