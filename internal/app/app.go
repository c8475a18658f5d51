// Package app builds the long-lived services shared by the CLI commands and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/sitecrawler/internal/api"
	"github.com/JakeFAU/sitecrawler/internal/clock/system"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/dispatcher"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	"github.com/JakeFAU/sitecrawler/internal/id/uuid"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
	"github.com/JakeFAU/sitecrawler/internal/progress"
	progresssinks "github.com/JakeFAU/sitecrawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/sitecrawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/sitecrawler/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/sitecrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitecrawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/sitecrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitecrawler/internal/storage/postgres"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// Options override external clients, mainly for tests.
type Options struct {
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registerer.
	Registerer    prometheus.Registerer
	GCSOptions    []option.ClientOption
	PubSubOptions []option.ClientOption
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobStore crawler.BlobStore
	jobStore  crawler.JobStore
	pool      *pgxpool.Pool
	gcs       *gcsstorage.BlobStore
	pubsub    *gcppublisher.Publisher
	hub       *progress.Hub
	runner    *Runner
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx, opts); err != nil {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	a.logger.Info("building application dependencies")
	clock := system.New()
	ids := uuid.New()

	if err := a.setupStorage(ctx, opts); err != nil {
		return err
	}
	pages, err := a.setupDatabase(ctx, clock)
	if err != nil {
		return err
	}
	if err := a.setupPublisher(ctx, opts); err != nil {
		return err
	}
	if err := a.setupProgress(opts); err != nil {
		return err
	}

	a.runner = &Runner{
		Logger:  a.logger.Named("crawl"),
		Emitter: a.hub,
		Clock:   clock,
		IDs:     ids,
		Pages:   pages,
	}
	if a.pubsub != nil {
		a.runner.Publisher = a.pubsub
		a.runner.PagesTopic = a.cfg.PubSub.PagesTopic
	}

	return a.setupDispatcher(clock, ids)
}

func (a *App) setupStorage(ctx context.Context, opts Options) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket},
			a.logger.Named("gcs"), opts.GCSOptions...)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcs = store
		a.blobStore = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
	default:
		a.blobStore = memoryStorage.NewBlobStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context, clock crawler.Clock) (*pgstore.PageStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database configured, keeping jobs in memory")
		a.jobStore = memoryStorage.NewJobStore(clock)
		return nil, nil
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	if a.cfg.DB.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return nil, err
		}
	}
	jobs, err := pgstore.NewJobStore(pool, a.cfg.DB.JobsTable, clock)
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	pages, err := pgstore.NewPageStore(pool, a.cfg.DB.PagesTable)
	if err != nil {
		return nil, fmt.Errorf("page store init failed: %w", err)
	}
	a.jobStore = jobs
	a.logger.Info("postgres stores initialized",
		zap.String("jobs_table", a.cfg.DB.JobsTable),
		zap.String("pages_table", a.cfg.DB.PagesTable),
	)
	return pages, nil
}

func (a *App) setupPublisher(ctx context.Context, opts Options) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, page publishing disabled")
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.PagesTopic,
		a.logger.Named("pubsub"), opts.PubSubOptions...)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("pages_topic", a.cfg.PubSub.PagesTopic),
	)
	return nil
}

func (a *App) setupProgress(opts Options) error {
	promSink, err := progresssinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		progresssinks.NewJobSink(a.jobStore, a.logger.Named("progress_jobs")),
	)
	return nil
}

func (a *App) setupDispatcher(clock crawler.Clock, ids crawler.IDGenerator) error {
	exports, err := a.cfg.ExportFormats()
	if err != nil {
		return err
	}
	workerCfg := worker.Config{
		Exports:    exports,
		BlobPrefix: a.cfg.Storage.Prefix,
	}
	var pub crawler.Publisher
	if a.pubsub != nil {
		pub = a.pubsub
		workerCfg.Topic = a.cfg.PubSub.CompletionTopic
	}
	a.queue = queueMemory.NewQueue(a.cfg.Server.QueueDepth)
	hasher := sha256.New()
	workers := make([]*worker.Worker, 0, a.cfg.Server.Workers)
	for i := range a.cfg.Server.Workers {
		workers = append(workers, worker.New(
			a.queue,
			a.jobStore,
			a.blobStore,
			pub,
			hasher,
			clock,
			a.runner,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, a.jobStore, ids, clock, workers, queueMemory.ErrFull, a.logger.Named("dispatcher"))
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the crawl runner used by the CLI and the workers.
func (a *App) Runner() *Runner { return a.runner }

// BlobStore returns the configured export store.
func (a *App) BlobStore() crawler.BlobStore { return a.blobStore }

// JobStore returns the configured job store.
func (a *App) JobStore() crawler.JobStore { return a.jobStore }

// Dispatcher returns the job dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.dispatch, a.jobStore, a.ready, a.cfg, a.logger.Named("api")).Handler()
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}
	return nil
}

// Serve runs the dispatcher and the HTTP API until ctx ends, then shuts the
// server down gracefully.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Server.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	return runErr
}

// Close releases every external resource. It is safe to call on a partially
// built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
