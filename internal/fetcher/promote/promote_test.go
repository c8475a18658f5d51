package promote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/fetcher"
	"github.com/JakeFAU/sitecrawler/internal/headless/detector"
)

type rawFetcherMock struct {
	mock.Mock
}

func (m *rawFetcherMock) FetchRaw(ctx context.Context, url string) (fetcher.Outcome, int) {
	args := m.Called(ctx, url)
	return args.Get(0).(fetcher.Outcome), args.Int(1)
}

type browserMock struct {
	mock.Mock
}

func (m *browserMock) Fetch(ctx context.Context, url string) crawler.FetchResult {
	args := m.Called(ctx, url)
	return args.Get(0).(crawler.FetchResult)
}

const (
	staticPage = `<html><head><title>Static</title></head><body><a href="/about">About</a></body></html>`
	spaShell   = `<html><head><title>Shell</title></head><body><div id="root"></div></body></html>`
)

func okOutcome(url, body string) fetcher.Outcome {
	return fetcher.FromResponse(fetcher.Response{FinalURL: url, StatusCode: 200, Body: []byte(body)})
}

func TestFetchStaticPageStaysOnHTTP(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/"
	httpF := &rawFetcherMock{}
	httpF.On("FetchRaw", mock.Anything, url).Return(okOutcome(url, staticPage), 1)
	browser := &browserMock{}

	res := New(httpF, browser, detector.NewHeuristic(0), nil).Fetch(context.Background(), url)

	require.Equal(t, "Static", res.Title)
	require.Equal(t, []string{"https://example.com/about"}, res.Links)
	require.False(t, res.UsedBrowser)
	require.Equal(t, 1, res.Attempts)
	browser.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestFetchPromotesSPA(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/app"
	httpF := &rawFetcherMock{}
	httpF.On("FetchRaw", mock.Anything, url).Return(okOutcome(url, spaShell), 1)
	browser := &browserMock{}
	browser.On("Fetch", mock.Anything, url).Return(crawler.FetchResult{
		StatusCode:  200,
		Title:       "Rendered",
		Links:       []string{"https://example.com/app/settings"},
		Attempts:    1,
		UsedBrowser: true,
	})

	res := New(httpF, browser, detector.NewHeuristic(0), nil).Fetch(context.Background(), url)

	require.True(t, res.UsedBrowser)
	require.Equal(t, "Rendered", res.Title)
	require.Equal(t, 2, res.Attempts)
	browser.AssertExpectations(t)
}

func TestFetchBrowserFailureKeepsHTTPResult(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/app"
	httpF := &rawFetcherMock{}
	httpF.On("FetchRaw", mock.Anything, url).Return(okOutcome(url, spaShell), 1)
	browser := &browserMock{}
	browser.On("Fetch", mock.Anything, url).Return(crawler.FetchResult{
		Attempts:    2,
		UsedBrowser: true,
		Err:         fetcher.ReasonRequest,
	})

	res := New(httpF, browser, detector.NewHeuristic(0), nil).Fetch(context.Background(), url)

	require.Empty(t, res.Err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, "Shell", res.Title)
	require.False(t, res.UsedBrowser)
	require.Equal(t, 3, res.Attempts)
}

func TestFetchNoPromotion(t *testing.T) {
	t.Parallel()

	const url = "https://example.com/app"
	tests := []struct {
		name    string
		outcome fetcher.Outcome
		browser bool
	}{
		{name: "browser disabled", outcome: okOutcome(url, spaShell)},
		{name: "not found", outcome: fetcher.FromResponse(fetcher.Response{StatusCode: 404, Body: []byte(spaShell)}), browser: true},
		{name: "server error", outcome: fetcher.FromResponse(fetcher.Response{StatusCode: 503}), browser: true},
		{name: "transport failure", outcome: fetcher.Outcome{Kind: fetcher.KindTransient, Reason: fetcher.ReasonConnect}, browser: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			httpF := &rawFetcherMock{}
			httpF.On("FetchRaw", mock.Anything, url).Return(tt.outcome, 4)
			bm := &browserMock{}
			var browser crawler.PageFetcher
			if tt.browser {
				browser = bm
			}

			res := New(httpF, browser, detector.NewHeuristic(0), nil).Fetch(context.Background(), url)

			require.False(t, res.UsedBrowser)
			require.Equal(t, 4, res.Attempts)
			bm.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		})
	}
}
