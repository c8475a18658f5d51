package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/fetcher"
)

func TestFetch_ExtractsPage(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<a href="/about">About</a>
<form action="/search"><input name="q"></form>
<button>Go</button>
</body></html>`)
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "sitecrawler-test", Timeout: time.Second}, zap.NewNop())
	res := f.Fetch(context.Background(), srv.URL+"/")

	require.Empty(t, res.Err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, "Home", res.Title)
	require.Equal(t, []string{srv.URL + "/about"}, res.Links)
	require.Len(t, res.Forms, 1)
	require.Equal(t, srv.URL+"/search", res.Forms[0].Action)
	require.Len(t, res.Buttons, 1)
	require.NotEmpty(t, res.ContentHash)
	require.False(t, res.UsedBrowser)
	require.Equal(t, "sitecrawler-test", gotUA.Load())
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "<html><title>ok</title></html>")
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second, MaxRetries: 3}, nil)
	res := f.Fetch(context.Background(), srv.URL)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, res.Err)
	require.Equal(t, 3, res.Attempts)
	require.EqualValues(t, 3, calls.Load())
}

func TestFetch_SucceedsAfterThreeServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second, MaxRetries: 3}, nil)
	res := f.Fetch(context.Background(), srv.URL)

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, 4, res.Attempts)
}

func TestFetch_ExhaustedServerErrorKeepsStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second, MaxRetries: 2}, nil)
	res := f.Fetch(context.Background(), srv.URL)

	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	require.Equal(t, 3, res.Attempts)
	require.Empty(t, res.Err)
	require.Empty(t, res.Links)
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<a href="/nope">x</a>`)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second, MaxRetries: 3}, nil)
	res := f.Fetch(context.Background(), srv.URL)

	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, 1, res.Attempts)
	require.EqualValues(t, 1, calls.Load())
	require.Empty(t, res.Links)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second, MaxRetries: 1}, nil)
	res := f.Fetch(context.Background(), target)

	require.Zero(t, res.StatusCode)
	require.Equal(t, fetcher.ReasonConnect, res.Err)
	require.Equal(t, 2, res.Attempts)
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond}, nil)
	res := f.Fetch(context.Background(), srv.URL)

	require.Zero(t, res.StatusCode)
	require.Equal(t, fetcher.ReasonTimeout, res.Err)
	require.Equal(t, 1, res.Attempts)
}

func TestFetch_FollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<a href="next">next</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{Timeout: time.Second}, nil)
	res := f.Fetch(context.Background(), srv.URL+"/old")

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, srv.URL+"/new", res.FinalURL)
	require.Equal(t, []string{srv.URL + "/next"}, res.Links)
}

func TestFetchRaw_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{Timeout: time.Second, MaxRetries: 3}, nil)
	out, attempts := f.FetchRaw(ctx, "http://127.0.0.1:1/")
	require.Zero(t, attempts)
	require.Equal(t, fetcher.ReasonCanceled, out.Reason)
}

func TestClientSharesTimeout(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: 3 * time.Second}, nil)
	c := f.Client()
	require.Equal(t, 3*time.Second, c.Timeout)
	require.NotNil(t, c.Transport)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var (
		resp     fetcher.Response
		received bool
		fetchErr error
	)
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &resp, &received, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.True(t, received)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "body", string(resp.Body))
	require.Equal(t, "ok", resp.Header.Get("X-Resp"))
	require.Equal(t, "https://example.com", resp.FinalURL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
