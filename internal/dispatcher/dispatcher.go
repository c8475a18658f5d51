// Package dispatcher accepts crawl submissions and fans queued jobs out to
// a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/worker"
)

// Errors returned to API callers.
var (
	ErrInvalidConfig = errors.New("invalid crawl config")
	ErrQueueFull     = errors.New("crawl queue is full")
	ErrJobFinished   = errors.New("job already finished")
)

// TryQueue is implemented by queues that can reject work instead of
// blocking the caller.
type TryQueue interface {
	TryEnqueue(item crawler.QueueItem) error
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	jobs    crawler.JobStore
	ids     crawler.IDGenerator
	clock   crawler.Clock
	workers []*worker.Worker
	logger  *zap.Logger

	// full is returned by TryQueue implementations when no slot is free.
	full error
	mu   sync.Mutex
}

// New creates a Dispatcher. full is the queue's "no capacity" sentinel and
// may be nil.
func New(
	queue crawler.Queue,
	jobs crawler.JobStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	workers []*worker.Worker,
	full error,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		workers: workers,
		full:    full,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates cfg, records a queued job and hands it to the queue.
func (d *Dispatcher) Submit(ctx context.Context, cfg crawler.Config) (crawler.Job, error) {
	if err := cfg.Validate(); err != nil {
		return crawler.Job{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:        id,
		Status:    crawler.JobStatusQueued,
		Submitted: d.now(),
		Config:    cfg,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.Enqueue(ctx, crawler.QueueItem{JobID: id, Config: cfg}); err != nil {
		if uerr := d.jobs.UpdateJobStatus(context.WithoutCancel(ctx), id, crawler.JobStatusFailed, err.Error()); uerr != nil {
			d.logger.Warn("mark unqueued job failed", zap.String("job_id", id), zap.Error(uerr))
		}
		return crawler.Job{}, err
	}
	d.logger.Info("crawl submitted", zap.String("job_id", id), zap.String("target_url", cfg.TargetURL))
	return job, nil
}

// Enqueue hands item to the queue. Queues that support it are never
// waited on; a full queue yields ErrQueueFull.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if tq, ok := d.queue.(TryQueue); ok {
		err := tq.TryEnqueue(item)
		if err != nil && d.full != nil && errors.Is(err, d.full) {
			return ErrQueueFull
		}
		if err != nil {
			return fmt.Errorf("queue enqueue: %w", err)
		}
		return nil
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops a running job or marks a queued one canceled so workers
// skip it. Finished jobs return ErrJobFinished.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, err := d.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		return ErrJobFinished
	}
	for _, w := range d.workers {
		if w.Cancel(jobID) {
			d.logger.Info("canceling running job", zap.String("job_id", jobID))
			return nil
		}
	}
	if err := d.jobs.UpdateJobStatus(ctx, jobID, crawler.JobStatusCanceled, "canceled before start"); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	d.logger.Info("canceled queued job", zap.String("job_id", jobID))
	return nil
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now().UTC()
}
