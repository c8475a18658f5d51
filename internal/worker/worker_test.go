package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/export"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/sitecrawler/internal/publisher/memory"
	qmemory "github.com/JakeFAU/sitecrawler/internal/queue/memory"
	"github.com/JakeFAU/sitecrawler/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type runnerFunc func(ctx context.Context, crawlID string, cfg crawler.Config) (crawler.Result, error)

func (f runnerFunc) Run(ctx context.Context, crawlID string, cfg crawler.Config) (crawler.Result, error) {
	return f(ctx, crawlID, cfg)
}

func okRunner(_ context.Context, crawlID string, cfg crawler.Config) (crawler.Result, error) {
	return crawler.Result{
		ID:        crawlID,
		TargetURL: cfg.TargetURL,
		Config:    cfg,
		Pages:     []crawler.PageResult{{URL: cfg.TargetURL, StatusCode: 200, Links: []string{}}},
		State:     crawler.StateDone,
	}, nil
}

type fixture struct {
	queue  *qmemory.Queue
	jobs   *memory.JobStore
	blobs  *memory.BlobStore
	pub    *pubmemory.Publisher
	worker *Worker
}

func newFixture(t *testing.T, runner Runner, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		queue: qmemory.NewQueue(4),
		jobs:  memory.NewJobStore(nil),
		blobs: memory.NewBlobStore(),
		pub:   pubmemory.New(),
	}
	f.worker = New(f.queue, f.jobs, f.blobs, f.pub, sha256.New(),
		fakeClock{now: time.Unix(100, 0)}, runner, cfg, zap.NewNop())
	return f
}

func (f *fixture) submit(t *testing.T, id string) {
	t.Helper()
	cfg := crawler.DefaultConfig("https://example.com")
	require.NoError(t, f.jobs.CreateJob(context.Background(), crawler.Job{ID: id, Config: cfg}))
	require.NoError(t, f.queue.Enqueue(context.Background(), crawler.QueueItem{JobID: id, Config: cfg}))
}

func (f *fixture) status(id string) crawler.JobStatus {
	job, err := f.jobs.GetJob(context.Background(), id)
	if err != nil {
		return ""
	}
	return job.Status
}

func TestWorkerSuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, runnerFunc(okRunner), Config{
		Exports:    []export.Format{export.FormatJSON, export.FormatMarkdown},
		BlobPrefix: "/exports/",
		Topic:      "crawls",
	})
	f.submit(t, "job-1")
	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return f.status("job-1") == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)

	res, err := f.jobs.GetResult(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", res.TargetURL)

	require.Equal(t, []string{"exports/job-1/result.json", "exports/job-1/result.md"}, f.blobs.Paths())
	obj, ok := f.blobs.Get("exports/job-1/result.md")
	require.True(t, ok)
	require.Equal(t, export.FormatMarkdown.ContentType(), obj.ContentType)

	msgs := f.pub.Messages("crawls")
	require.Len(t, msgs, 1)
	done := msgs[0].Payload.(Completion)
	require.Equal(t, crawler.JobStatusSucceeded, done.Status)
	require.Equal(t, 1, done.Pages)
	require.Len(t, done.Exports, 2)
	require.Equal(t, "memory://exports/job-1/result.json", done.Exports[0].URI)
	require.Equal(t, sha256.ContentHash(mustGet(t, f.blobs, "exports/job-1/result.json")), done.Exports[0].SHA256)
	require.Equal(t, "1970-01-01T00:01:40Z", done.Timestamp)
}

func mustGet(t *testing.T, blobs *memory.BlobStore, path string) []byte {
	t.Helper()
	obj, ok := blobs.Get(path)
	require.True(t, ok)
	return obj.Data
}

func TestWorkerRunnerError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, runnerFunc(func(context.Context, string, crawler.Config) (crawler.Result, error) {
		return crawler.Result{}, errors.New("invalid config")
	}), Config{Topic: "crawls"})
	f.submit(t, "job-err")
	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return f.status("job-err") == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	job, _ := f.jobs.GetJob(ctx, "job-err")
	require.Equal(t, "invalid config", job.ErrorText)
	require.Empty(t, f.pub.Messages())
}

func TestWorkerCancelRunningJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	f := newFixture(t, runnerFunc(func(ctx context.Context, id string, cfg crawler.Config) (crawler.Result, error) {
		close(started)
		<-ctx.Done()
		res, _ := okRunner(ctx, id, cfg)
		res.Canceled = true
		return res, nil
	}), Config{})
	f.submit(t, "job-long")
	go f.worker.Run(ctx)

	<-started
	require.False(t, f.worker.Cancel("other"))
	require.True(t, f.worker.Cancel("job-long"))

	require.Eventually(t, func() bool {
		return f.status("job-long") == crawler.JobStatusCanceled
	}, time.Second, 10*time.Millisecond)
	_, err := f.jobs.GetResult(ctx, "job-long")
	require.NoError(t, err)
}

func TestWorkerSkipsCanceledJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan string, 2)
	f := newFixture(t, runnerFunc(func(ctx context.Context, id string, cfg crawler.Config) (crawler.Result, error) {
		ran <- id
		return okRunner(ctx, id, cfg)
	}), Config{})
	f.submit(t, "job-skip")
	f.submit(t, "job-run")
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, "job-skip", crawler.JobStatusCanceled, "canceled before start"))
	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return f.status("job-run") == crawler.JobStatusSucceeded
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "job-run", <-ran)
	require.Empty(t, ran)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestWorkerExportFailureFailsJob(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, runnerFunc(okRunner), Config{Exports: []export.Format{export.FormatJSON}})
	f.worker.blobStore = failingBlobs{}
	f.submit(t, "job-x")
	go f.worker.Run(ctx)

	require.Eventually(t, func() bool {
		return f.status("job-x") == crawler.JobStatusFailed
	}, time.Second, 10*time.Millisecond)
	job, _ := f.jobs.GetJob(ctx, "job-x")
	require.Contains(t, job.ErrorText, "put json export: bucket gone")
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	status, _ := deriveFinalStatus(crawler.Result{Pages: []crawler.PageResult{{}}})
	require.Equal(t, crawler.JobStatusSucceeded, status)
	status, msg := deriveFinalStatus(crawler.Result{})
	require.Equal(t, crawler.JobStatusFailed, status)
	require.Equal(t, "no pages were fetched", msg)
	status, _ = deriveFinalStatus(crawler.Result{Canceled: true})
	require.Equal(t, crawler.JobStatusCanceled, status)
}

func TestExportPath(t *testing.T) {
	t.Parallel()

	w := &Worker{}
	require.Equal(t, "j/result.yaml", w.exportPath("j", export.FormatYAML))
	w.cfg.BlobPrefix = "out"
	require.Equal(t, "out/j/graph.json", w.exportPath("j", export.FormatGraph))
}
