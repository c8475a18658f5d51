// Package worker runs queued crawl jobs to completion.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/export"
)

// Runner executes one crawl. It is implemented by the application, which
// knows how to assemble fetchers and sinks for a config.
type Runner interface {
	Run(ctx context.Context, crawlID string, cfg crawler.Config) (crawler.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Exports lists the formats written to the blob store after each crawl.
	Exports    []export.Format
	BlobPrefix string
	// Topic receives a completion message per job when a publisher is set.
	Topic string
}

// ExportRef points at one uploaded export.
type ExportRef struct {
	Format export.Format `json:"format"`
	URI    string        `json:"uri"`
	SHA256 string        `json:"sha256"`
}

// Completion is published when a job reaches a terminal status.
type Completion struct {
	JobID     string            `json:"job_id"`
	Status    crawler.JobStatus `json:"status"`
	TargetURL string            `json:"target_url"`
	Pages     int               `json:"pages"`
	Canceled  bool              `json:"canceled"`
	Error     string            `json:"error,omitempty"`
	Exports   []ExportRef       `json:"exports"`
	Timestamp string            `json:"timestamp"`
}

// Worker consumes queue items and runs each crawl.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	runner    Runner
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New constructs a Worker. blobStore, publisher and hasher may be nil.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	runner Runner,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// Cancel stops jobID if this worker is running it.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cancel, ok := w.active[jobID]
	if ok {
		cancel()
	}
	return ok
}

func (w *Worker) track(jobID string, cancel context.CancelFunc) func() {
	w.mu.Lock()
	w.active[jobID] = cancel
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.active, jobID)
		w.mu.Unlock()
		cancel()
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		logger.Info("skipping job", zap.String("status", string(job.Status)))
		return
	}
	if w.runner == nil {
		w.finish(ctx, logger, item.JobID, crawler.JobStatusFailed, "no crawl runner configured")
		return
	}
	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, ""); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	untrack := w.track(item.JobID, cancel)
	result, err := w.runner.Run(jobCtx, item.JobID, item.Config)
	untrack()

	// The job may have been canceled along with ctx; bookkeeping still
	// has to land.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		w.finish(bg, logger, item.JobID, crawler.JobStatusFailed, err.Error())
		return
	}
	if err := w.jobStore.SaveResult(bg, item.JobID, result); err != nil {
		logger.Error("save result failed", zap.Error(err))
		w.finish(bg, logger, item.JobID, crawler.JobStatusFailed, fmt.Sprintf("save result: %v", err))
		return
	}

	status, errText := deriveFinalStatus(result)
	exports, err := w.writeExports(bg, item.JobID, result)
	if err != nil {
		logger.Error("export failed", zap.Error(err))
		status, errText = crawler.JobStatusFailed, err.Error()
	}
	if err := w.publishCompletion(bg, item.JobID, status, errText, result, exports); err != nil {
		logger.Error("publish completion failed", zap.Error(err))
		status, errText = crawler.JobStatusFailed, err.Error()
	}
	w.finish(bg, logger, item.JobID, status, errText)
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, jobID string, status crawler.JobStatus, errText string) {
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
		return
	}
	logger.Info("job finished", zap.String("status", string(status)), zap.String("error", errText))
}

func (w *Worker) writeExports(ctx context.Context, jobID string, result crawler.Result) ([]ExportRef, error) {
	if w.blobStore == nil || len(w.cfg.Exports) == 0 {
		return []ExportRef{}, nil
	}
	refs := make([]ExportRef, 0, len(w.cfg.Exports))
	for _, format := range w.cfg.Exports {
		data, err := export.Render(result, format)
		if err != nil {
			return refs, fmt.Errorf("render %s export: %w", format, err)
		}
		uri, err := w.blobStore.PutObject(ctx, w.exportPath(jobID, format), format.ContentType(), bytes.NewReader(data))
		if err != nil {
			return refs, fmt.Errorf("put %s export: %w", format, err)
		}
		ref := ExportRef{Format: format, URI: uri}
		if w.hasher != nil {
			if ref.SHA256, err = w.hasher.Hash(data); err != nil {
				return refs, fmt.Errorf("hash %s export: %w", format, err)
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (w *Worker) exportPath(jobID string, format export.Format) string {
	name := "result." + format.Extension()
	if format == export.FormatGraph {
		name = "graph.json"
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return path.Join(jobID, name)
	}
	return path.Join(prefix, jobID, name)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	result crawler.Result,
	exports []ExportRef,
) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	now := time.Now()
	if w.clock != nil {
		now = w.clock.Now()
	}
	msg := Completion{
		JobID:     jobID,
		Status:    status,
		TargetURL: result.TargetURL,
		Pages:     len(result.Pages),
		Canceled:  result.Canceled,
		Error:     errText,
		Exports:   exports,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, msg); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

func deriveFinalStatus(result crawler.Result) (crawler.JobStatus, string) {
	switch {
	case result.Canceled:
		return crawler.JobStatusCanceled, "canceled"
	case len(result.Pages) == 0:
		return crawler.JobStatusFailed, "no pages were fetched"
	default:
		return crawler.JobStatusSucceeded, ""
	}
}
