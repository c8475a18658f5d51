package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	iduuid "github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/pattern"
	"github.com/JakeFAU/sitecrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	"github.com/JakeFAU/sitecrawler/internal/robots"
	"github.com/JakeFAU/sitecrawler/internal/scope"
	"github.com/JakeFAU/sitecrawler/internal/sitemap"
	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

// ErrAlreadyRun is returned by Run on an engine that has already been run.
var ErrAlreadyRun = errors.New("crawler: engine already run")

// Deps are the collaborators of an Engine. Only Fetcher is required.
type Deps struct {
	Fetcher PageFetcher
	// RobotsClient downloads robots.txt. Defaults to an http.Client with the
	// crawl timeout.
	RobotsClient robots.Doer
	Sinks        []PageSink
	Emitter      progress.Emitter
	Logger       *zap.Logger
	Clock        Clock
	IDs          IDGenerator
	// CrawlID overrides the generated crawl ID, e.g. with a job ID.
	CrawlID string
}

// Engine runs one crawl. It owns the frontier, the visited set and the
// pattern normalizer; none of them is touched outside the dispatch loop.
type Engine struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	emitter    progress.Emitter
	clock      Clock
	target     string
	scope      *scope.Filter
	normalizer *pattern.Normalizer
	store      *sitemap.Store
	pacer      *ratelimit.Pacer
	rules      *robots.RuleSet

	frontier   frontier
	visited    map[string]struct{}
	sampledOut map[string]struct{}
	id         string

	ran   atomic.Bool
	mu    sync.RWMutex
	state State
}

// fetched is a worker's report back to the dispatch loop.
type fetched struct {
	entry  entry
	result FetchResult
	dur    time.Duration
}

// NewEngine validates cfg and prepares an idle engine.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	if deps.Fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	target, err := urlutil.Canonicalize(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize target: %w", err)
	}
	filter, err := scope.New(target, cfg.IncludeSubdomains, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("build scope: %w", err)
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = iduuid.New()
	}
	if deps.RobotsClient == nil {
		deps.RobotsClient = &http.Client{Timeout: cfg.Timeout}
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger,
		emitter: deps.Emitter,
		clock:   deps.Clock,
		target:  target,
		scope:   filter,
		store:   sitemap.New(),
		pacer:   ratelimit.NewPacer(cfg.RequestDelay),
		visited: make(map[string]struct{}),
		state:   StateIdle,

		sampledOut: make(map[string]struct{}),
	}
	if cfg.EnablePatternNormalization {
		e.normalizer = pattern.NewNormalizer(cfg.MaxSamplesPerPattern)
	}
	return e, nil
}

// State reports the engine's lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// ID returns the crawl ID. It is empty until Run starts.
func (e *Engine) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

// Run crawls breadth-first from the target until the frontier empties, the
// page budget is spent or ctx ends. Cancellation is not an error: the pages
// gathered so far are returned with Canceled set.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	id := e.deps.CrawlID
	if id == "" {
		generated, err := e.deps.IDs.NewID()
		if err != nil {
			return Result{}, fmt.Errorf("generate crawl id: %w", err)
		}
		id = generated
	}
	e.mu.Lock()
	e.id = id
	e.state = StateRunning
	e.mu.Unlock()

	started := e.clock.Now()
	e.logger.Info("crawl started",
		zap.String("crawl_id", id),
		zap.String("target", e.target),
		zap.Int("max_depth", e.cfg.MaxDepth),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Int("concurrency", e.cfg.Concurrency),
	)
	if e.normalizer != nil {
		e.logger.Debug("pattern sampling enabled",
			zap.String("crawl_id", id),
			zap.Int("max_samples", e.normalizer.MaxSamples()),
		)
	}
	e.emit(progress.Event{Stage: progress.StageCrawlStart, URL: e.target})

	e.rules = robots.AllowAll()
	if e.cfg.RespectRobots {
		_ = e.pacer.Wait(ctx)
		e.rules = robots.Fetch(ctx, e.deps.RobotsClient, e.target, e.cfg.UserAgent, e.logger)
	}

	e.frontier.push(entry{URL: e.target})
	canceled := e.loop(ctx)

	e.setState(StateDraining)
	e.frontier.reset()
	metrics.SetFrontierSize(0)

	completed := e.clock.Now()
	result := Result{
		ID:          id,
		TargetURL:   e.cfg.TargetURL,
		StartedAt:   started,
		CompletedAt: completed,
		Config:      e.cfg,
		Pages:       e.store.Pages(),
		Statistics: Statistics{
			Statistics:      e.store.Statistics(),
			DurationSeconds: completed.Sub(started).Seconds(),
		},
		State:    StateDone,
		Canceled: canceled,
	}
	if e.normalizer != nil {
		snapshot := e.normalizer.Result()
		result.Patterns = &snapshot
	}
	e.setState(StateDone)

	status := "succeeded"
	if canceled {
		status = "canceled"
	}
	metrics.ObserveCrawl(status)
	e.emit(progress.Event{
		Stage: progress.StageCrawlDone,
		URL:   e.target,
		Pages: len(result.Pages),
		Dur:   completed.Sub(started),
		Note:  status,
	})
	e.logger.Info("crawl finished",
		zap.String("crawl_id", id),
		zap.Int("pages", len(result.Pages)),
		zap.Bool("canceled", canceled),
		zap.Float64("duration_seconds", result.Statistics.DurationSeconds),
	)
	return result, nil
}

// loop dispatches admitted entries to at most Concurrency workers and
// records their results. It reports whether ctx ended the crawl.
func (e *Engine) loop(ctx context.Context) bool {
	var (
		g        errgroup.Group
		inflight int
		canceled bool
		results  = make(chan fetched, e.cfg.Concurrency)
	)
	g.SetLimit(e.cfg.Concurrency)

	for {
		for !canceled && inflight < e.cfg.Concurrency && e.frontier.len() > 0 && !e.budgetSpent() {
			if ctx.Err() != nil {
				canceled = true
				break
			}
			ent, _ := e.frontier.pop()
			if !e.admit(ent) {
				continue
			}
			inflight++
			g.Go(func() error {
				results <- e.fetch(ctx, ent)
				return nil
			})
		}
		metrics.SetFrontierSize(e.frontier.len())
		if inflight == 0 {
			break
		}
		r := <-results
		inflight--
		e.record(ctx, r)
	}
	_ = g.Wait()
	return canceled || ctx.Err() != nil
}

func (e *Engine) budgetSpent() bool {
	return e.cfg.MaxPages > 0 && len(e.visited) >= e.cfg.MaxPages
}

// admit runs the gates in order and marks the URL visited when all pass.
// An admitted URL takes its pattern sample slot immediately, so URLs of one
// shape dispatched together cannot overrun the cap. A URL turned away by the
// cap is counted once however many pages link to it.
func (e *Engine) admit(ent entry) bool {
	if _, seen := e.visited[ent.URL]; seen {
		return false
	}
	if _, seen := e.sampledOut[ent.URL]; seen {
		return false
	}
	var (
		reason SkipReason
		note   string
	)
	switch {
	case ent.Depth > e.cfg.MaxDepth:
		reason = SkipDepth
	case !e.scope.InScope(ent.URL):
		reason = SkipScope
	case e.cfg.RespectRobots && !e.rules.Allowed(ent.URL, e.cfg.UserAgent):
		reason = SkipRobots
	case e.normalizer != nil && e.normalizer.ShouldSkip(ent.URL):
		e.normalizer.RecordSkip()
		e.sampledOut[ent.URL] = struct{}{}
		reason = SkipPattern
		note = e.normalizer.Pattern(ent.URL).PatternPath
	}
	if reason != "" {
		metrics.ObserveSkip(string(reason))
		e.emit(progress.Event{
			Stage:    progress.StageURLSkipped,
			URL:      ent.URL,
			Depth:    ent.Depth,
			Reason:   string(reason),
			Frontier: e.frontier.len(),
			Note:     note,
		})
		e.logger.Debug("url skipped", zap.String("url", ent.URL), zap.String("reason", string(reason)))
		return false
	}
	e.visited[ent.URL] = struct{}{}
	if e.normalizer != nil {
		e.normalizer.AddURL(ent.URL)
	}
	return true
}

// fetch runs on a worker goroutine and must not touch engine state beyond
// the shared pacer.
func (e *Engine) fetch(ctx context.Context, ent entry) fetched {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	_ = e.pacer.Wait(ctx)
	start := time.Now()
	res := e.deps.Fetcher.Fetch(ctx, ent.URL)
	return fetched{entry: ent, result: res, dur: time.Since(start)}
}

// record turns a fetch into a stored page and queues its links.
func (e *Engine) record(ctx context.Context, r fetched) {
	page := e.buildPage(r.entry, r.result)
	e.store.Add(page)

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range e.deps.Sinks {
		if err := sink.Put(sinkCtx, page); err != nil {
			e.logger.Warn("page sink failed", zap.String("url", page.URL), zap.Error(err))
		}
	}

	if !page.Failed() {
		for _, link := range page.Links {
			if _, seen := e.visited[link]; !seen {
				e.frontier.push(entry{URL: link, Depth: r.entry.Depth + 1, Parent: page.URL})
			}
		}
	}

	metrics.ObservePage(page.URL, page.StatusCode, r.result.BodyBytes)
	e.emit(progress.Event{
		Stage:       progress.StagePageDone,
		URL:         page.URL,
		Depth:       page.Depth,
		Bytes:       int64(r.result.BodyBytes),
		StatusClass: progress.ClassifyStatus(page.StatusCode),
		Frontier:    e.frontier.len(),
		Pages:       e.store.Len(),
		Dur:         r.dur,
		Note:        page.Error,
	})
	e.logger.Debug("page stored",
		zap.String("url", page.URL),
		zap.Int("depth", page.Depth),
		zap.Int("status", page.StatusCode),
		zap.Int("attempts", page.Attempts),
		zap.String("error", page.Error),
	)
}

func (e *Engine) buildPage(ent entry, res FetchResult) PageResult {
	page := PageResult{
		URL:          ent.URL,
		StatusCode:   res.StatusCode,
		Depth:        ent.Depth,
		ParentURL:    ent.Parent,
		Title:        res.Title,
		Links:        []string{},
		Forms:        res.Forms,
		Buttons:      res.Buttons,
		APIEndpoints: res.APIEndpoints,
		ContentHash:  res.ContentHash,
		Attempts:     res.Attempts,
		UsedBrowser:  res.UsedBrowser,
		CrawledAt:    e.clock.Now(),
	}
	if res.FinalURL != "" {
		if final, err := urlutil.Canonicalize(res.FinalURL); err == nil && final != ent.URL {
			page.FinalURL = res.FinalURL
		}
	}
	switch {
	case res.Err != "":
		page.Error = res.Err
		page.StatusCode = 0
	case res.StatusCode >= 400:
		page.Error = fmt.Sprintf("HTTP %d", res.StatusCode)
	default:
		page.Links = canonicalLinks(res.Links)
	}
	return page
}

// canonicalLinks canonicalizes http(s) links, dropping duplicates and
// anything that does not parse.
func canonicalLinks(links []string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, raw := range links {
		lower := strings.ToLower(raw)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		link, err := urlutil.Canonicalize(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out
}

func (e *Engine) emit(evt progress.Event) {
	evt.CrawlID = e.ID()
	evt.TS = e.clock.Now()
	if evt.URL != "" {
		evt.Site = urlutil.Hostname(evt.URL)
	}
	e.emitter.Emit(evt)
}
