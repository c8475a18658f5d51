// Package progress defines the events a crawl reports while it runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart Stage = "CRAWL_START"
	StagePageDone   Stage = "PAGE_DONE"
	StageURLSkipped Stage = "URL_SKIPPED"
	StageCrawlDone  Stage = "CRAWL_DONE"
	StageCrawlError Stage = "CRAWL_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes for page completions. StatusError marks pages that got no
// response at all.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusError StatusClass = "error"
)

// Event captures a single step of crawl progress.
type Event struct {
	// CrawlID identifies the crawl that emitted the event.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host of URL, used as a metrics label.
	Site  string
	URL   string
	Depth int
	// Bytes is the body size of a completed page.
	Bytes       int64
	StatusClass StatusClass
	// Reason names the gate for URL_SKIPPED events.
	Reason string
	// Frontier is the number of queued entries when the event was emitted.
	Frontier int
	// Pages is the number of stored pages, set on PAGE_DONE and CRAWL_DONE.
	Pages int
	// Dur is the fetch time for pages and the wall time for finished crawls.
	Dur time.Duration
	// Note carries error text for CRAWL_ERROR and failed pages, and the
	// pattern path for pattern skips.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StagePageDone:
		if e.URL == "" {
			return errors.New("page done requires url")
		}
		if e.StatusClass == "" {
			return errors.New("page done requires status class")
		}
	case StageURLSkipped:
		if e.Reason == "" {
			return errors.New("url skipped requires reason")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for page events. Zero means the
// request never produced a response.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusError
	}
}
