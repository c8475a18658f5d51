package crawler

import (
	"time"

	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/pattern"
	"github.com/JakeFAU/sitecrawler/internal/sitemap"
)

// PageResult is the record stored for every fetched URL.
type PageResult = sitemap.Page

// State is the lifecycle of an Engine.
type State string

// Engine states. An engine moves strictly forward through them.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateDone     State = "done"
)

// SkipReason names the gate that turned a dequeued URL away.
type SkipReason string

// Skip reasons, in gate order.
const (
	SkipVisited SkipReason = "visited"
	SkipDepth   SkipReason = "depth"
	SkipScope   SkipReason = "scope"
	SkipRobots  SkipReason = "robots"
	SkipPattern SkipReason = "pattern"
)

// FetchResult is what a PageFetcher reports for one URL. Err is set when
// no usable response was received; StatusCode is then 0.
type FetchResult struct {
	FinalURL     string
	StatusCode   int
	Title        string
	Links        []string
	Forms        []extract.FormData
	Buttons      []extract.ButtonInfo
	APIEndpoints []extract.Endpoint
	ContentHash  string
	BodyBytes    int
	Attempts     int
	UsedBrowser  bool
	Err          string
}

// Statistics aggregates a finished crawl.
type Statistics struct {
	sitemap.Statistics `yaml:",inline"`
	DurationSeconds    float64 `json:"duration_seconds" yaml:"duration_seconds"`
}

// Result is the aggregate returned by Engine.Run. It is always complete,
// even when every page failed or the crawl was canceled.
type Result struct {
	ID          string          `json:"id,omitempty" yaml:"id,omitempty"`
	TargetURL   string          `json:"target_url" yaml:"target_url"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time       `json:"completed_at" yaml:"completed_at"`
	Config      Config          `json:"config" yaml:"config"`
	Pages       []PageResult    `json:"pages" yaml:"pages"`
	Statistics  Statistics      `json:"statistics" yaml:"statistics"`
	Patterns    *pattern.Result `json:"pattern_groups,omitempty" yaml:"pattern_groups,omitempty"`
	State       State           `json:"state" yaml:"state"`
	Canceled    bool            `json:"canceled" yaml:"canceled"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Config    Config      `json:"config"`
	Counters  JobCounters `json:"counters"`
}

// JobCounters tracks live progress for a job.
type JobCounters struct {
	PagesStored  int `json:"pages_stored"`
	PagesFailed  int `json:"pages_failed"`
	URLsSkipped  int `json:"urls_skipped"`
	FrontierSize int `json:"frontier_size"`
}
