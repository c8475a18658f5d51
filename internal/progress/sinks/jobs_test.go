package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/progress"
)

func TestJobSinkAccumulatesCounters(t *testing.T) {
	t.Parallel()

	store := &fakeCounterStore{}
	sink := NewJobSink(store, nil)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: "c1", TS: now, Stage: progress.StageCrawlStart},
		{CrawlID: "c1", TS: now, Stage: progress.StagePageDone, URL: "https://example.com/", StatusClass: progress.Status2xx, Frontier: 4},
		{CrawlID: "c1", TS: now, Stage: progress.StageURLSkipped, URL: "https://other.com/", Reason: "scope", Frontier: 3},
	}))
	require.Equal(t, crawler.JobCounters{PagesStored: 1, URLsSkipped: 1, FrontierSize: 3}, store.last("c1"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: "c1", TS: now, Stage: progress.StagePageDone, URL: "https://example.com/x", StatusClass: progress.Status4xx, Note: "HTTP 404", Frontier: 2},
		{CrawlID: "c2", TS: now, Stage: progress.StageCrawlStart},
	}))
	require.Equal(t, crawler.JobCounters{PagesStored: 2, PagesFailed: 1, URLsSkipped: 1, FrontierSize: 2}, store.last("c1"))
	require.Equal(t, crawler.JobCounters{}, store.last("c2"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{CrawlID: "c1", TS: now, Stage: progress.StageCrawlDone, Pages: 2},
	}))
	require.Equal(t, crawler.JobCounters{PagesStored: 2, PagesFailed: 1, URLsSkipped: 1}, store.last("c1"))
	require.NotContains(t, sink.counters, "c1")
	require.Contains(t, sink.counters, "c2")
}

func TestJobSinkSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	sink := NewJobSink(&fakeCounterStore{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{CrawlID: "c1", TS: time.Now(), Stage: progress.StageCrawlStart},
	})
	require.Error(t, err)
}

func TestJobSinkNilStore(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewJobSink(nil, nil).Consume(context.Background(), []progress.Event{{CrawlID: "c1"}}))
}

type fakeCounterStore struct {
	mu    sync.Mutex
	fail  bool
	calls map[string][]crawler.JobCounters
}

func (f *fakeCounterStore) UpdateCounters(_ context.Context, jobID string, counters crawler.JobCounters) error {
	if f.fail {
		return errors.New("store unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string][]crawler.JobCounters)
	}
	f.calls[jobID] = append(f.calls[jobID], counters)
	return nil
}

func (f *fakeCounterStore) last(jobID string) crawler.JobCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[jobID]
	if len(calls) == 0 {
		return crawler.JobCounters{}
	}
	return calls[len(calls)-1]
}
