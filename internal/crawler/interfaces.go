package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrJobNotFound is returned by JobStore implementations for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// PageFetcher fetches one URL and extracts its structure. Failures are
// reported through FetchResult.Err, never as a Go error.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// PageSink receives every stored page, e.g. to persist or publish it.
type PageSink interface {
	Put(ctx context.Context, page PageResult) error
}

// JobStore persists job metadata and finished results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	UpdateCounters(ctx context.Context, jobID string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	SaveResult(ctx context.Context, jobID string, result Result) error
	GetResult(ctx context.Context, jobID string) (Result, error)
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// QueueItem is one submitted crawl waiting for a worker.
type QueueItem struct {
	JobID  string
	Config Config
}

// Queue hands submitted crawls to workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
