package sinks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

// CounterStore is the slice of crawler.JobStore the sink writes to.
type CounterStore interface {
	UpdateCounters(ctx context.Context, jobID string, counters crawler.JobCounters) error
}

// JobSink keeps live counters for each crawl and writes them to the job
// store once per batch.
type JobSink struct {
	store  CounterStore
	logger *zap.Logger

	mu       sync.Mutex
	counters map[string]crawler.JobCounters
}

// NewJobSink constructs a JobSink for store.
func NewJobSink(store CounterStore, logger *zap.Logger) *JobSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobSink{
		store:    store,
		logger:   logger,
		counters: make(map[string]crawler.JobCounters),
	}
}

// Consume folds batch into the running counters and persists every crawl
// the batch touched. Counters for finished crawls are forgotten afterwards.
func (s *JobSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	touched, finished := s.apply(batch)
	for _, id := range touched {
		s.mu.Lock()
		counters := s.counters[id]
		s.mu.Unlock()
		if err := s.store.UpdateCounters(ctx, id, counters); err != nil {
			return fmt.Errorf("update counters for %s: %w", id, err)
		}
	}
	s.mu.Lock()
	for _, id := range finished {
		delete(s.counters, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *JobSink) apply(batch []progress.Event) (touched, finished []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	for _, evt := range batch {
		c := s.counters[evt.CrawlID]
		switch evt.Stage {
		case progress.StagePageDone:
			c.PagesStored++
			if evt.Note != "" {
				c.PagesFailed++
			}
			c.FrontierSize = evt.Frontier
		case progress.StageURLSkipped:
			c.URLsSkipped++
			c.FrontierSize = evt.Frontier
		case progress.StageCrawlDone, progress.StageCrawlError:
			c.FrontierSize = 0
			finished = append(finished, evt.CrawlID)
		}
		s.counters[evt.CrawlID] = c
		if !seen[evt.CrawlID] {
			seen[evt.CrawlID] = true
			touched = append(touched, evt.CrawlID)
		}
	}
	return touched, finished
}

// Close implements the Sink interface; it performs no action.
func (s *JobSink) Close(context.Context) error {
	return nil
}
