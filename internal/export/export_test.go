package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/pattern"
	"github.com/JakeFAU/sitecrawler/internal/sitemap"
)

func sampleResult() crawler.Result {
	started := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return crawler.Result{
		TargetURL:   "https://example.com",
		StartedAt:   started,
		CompletedAt: started.Add(2 * time.Second),
		Config:      crawler.DefaultConfig("https://example.com"),
		Pages: []crawler.PageResult{
			{
				URL:        "https://example.com",
				StatusCode: 200,
				Title:      "Home",
				Links:      []string{"https://example.com/about", "https://example.com/missing"},
				Forms:      []extract.FormData{{Action: "/search", Method: "GET"}},
				APIEndpoints: []extract.Endpoint{
					{URL: "/api/items", Method: "GET", Source: "fetch"},
				},
				Attempts: 1,
			},
			{
				URL:        "https://example.com/about",
				StatusCode: 200,
				Depth:      1,
				ParentURL:  "https://example.com",
				Links:      []string{},
				Attempts:   1,
			},
			{
				URL:       "https://example.com/missing",
				Depth:     1,
				ParentURL: "https://example.com",
				Links:     []string{},
				Error:     "HTTP 404",
				Attempts:  1,
			},
		},
		Statistics: crawler.Statistics{
			Statistics:      sitemap.Statistics{TotalPages: 3, TotalLinks: 2, TotalForms: 1, TotalEndpoints: 1},
			DurationSeconds: 2,
		},
		Patterns: &pattern.Result{
			Groups: []pattern.Group{{
				Pattern:    pattern.URLPattern{Scheme: "https", Netloc: "example.com", PatternPath: "/posts/<int>"},
				SampleURLs: []string{"https://example.com/posts/1"},
				TotalCount: 4,
				MaxSamples: 3,
			}},
			TotalURLsProcessed: 4,
			TotalPatternsFound: 1,
		},
		State: crawler.StateDone,
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatJSON},
		{"JSON", FormatJSON},
		{"yml", FormatYAML},
		{"text", FormatText},
		{"md", FormatMarkdown},
		{" markdown ", FormatMarkdown},
		{"graph", FormatGraph},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFormat("table")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRenderJSON(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleResult(), FormatJSON)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(out), "{\n  \"id\"") || strings.HasPrefix(string(out), "{\n  \"target_url\""))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, "https://example.com", doc["target_url"])
	require.Len(t, doc["pages"], 3)
	cfg := doc["config"].(map[string]any)
	require.InDelta(t, 30, cfg["timeout"], 0.001)
	stats := doc["statistics"].(map[string]any)
	require.InDelta(t, 3, stats["total_pages"], 0)
	require.Contains(t, doc, "pattern_groups")
}

func TestRenderYAML(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleResult(), FormatYAML)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	require.Equal(t, "https://example.com", doc["target_url"])
	stats := doc["statistics"].(map[string]any)
	require.Equal(t, 3, stats["total_pages"])
	cfg := doc["config"].(map[string]any)
	require.Equal(t, 3, cfg["max_depth"])
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleResult(), FormatText)
	require.NoError(t, err)
	text := string(out)
	require.True(t, strings.HasPrefix(text, "Crawl Results: https://example.com\n"))
	require.Contains(t, text, "  Pages crawled: 3\n")
	require.Contains(t, text, "  Duration:      2.0s\n")
	require.Contains(t, text, "  https://example.com [200] depth=0 links=2 forms=1 endpoints=1\n")
	require.Contains(t, text, `https://example.com/missing [0] depth=1 links=0 forms=0 endpoints=0 error="HTTP 404"`)
	require.NotContains(t, text, "Canceled")
}

func TestRenderTextSiteTree(t *testing.T) {
	t.Parallel()

	result := sampleResult()
	result.Pages = append(result.Pages,
		crawler.PageResult{URL: "https://example.com/about/team", Depth: 2, ParentURL: "https://example.com/about", Links: []string{}},
		crawler.PageResult{URL: "https://example.com/orphan", Depth: 3, ParentURL: "https://example.com/gone", Links: []string{}},
	)

	out, err := Render(result, FormatText)
	require.NoError(t, err)
	require.Contains(t, string(out), "\nSite tree:\n"+
		"  https://example.com\n"+
		"    https://example.com/about\n"+
		"      https://example.com/about/team\n"+
		"    https://example.com/missing\n"+
		"  https://example.com/orphan\n")
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleResult(), FormatMarkdown)
	require.NoError(t, err)
	md := string(out)
	require.Contains(t, md, "# Crawl Results: https://example.com")
	require.Contains(t, md, "## Statistics")
	require.Contains(t, md, "| URL | Status | Depth | Links | Forms | Endpoints |")
	require.Contains(t, md, "| https://example.com | 200 | 0 | 2 | 1 | 1 |")
	require.Contains(t, md, "| https://example.com/missing | 0 (HTTP 404) | 1 | 0 | 0 | 0 |")
	require.Contains(t, md, "| `/posts/<int>` | 4 | 1 |")
}

func TestRenderMarkdownWithoutPatterns(t *testing.T) {
	t.Parallel()

	res := sampleResult()
	res.Patterns = nil
	out, err := Render(res, FormatMarkdown)
	require.NoError(t, err)
	require.NotContains(t, string(out), "URL Patterns")
}

func TestRenderGraph(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleResult(), FormatGraph)
	require.NoError(t, err)

	var doc struct {
		Nodes map[string]json.RawMessage `json:"nodes"`
		Edges []json.RawMessage          `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Nodes, 4)
	require.Len(t, doc.Edges, 4)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteErrors(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Write(&bytes.Buffer{}, sampleResult(), Format("xml")), ErrUnknownFormat)
	require.Error(t, Write(failingWriter{}, sampleResult(), FormatText))
	require.Error(t, Write(failingWriter{}, sampleResult(), FormatJSON))
}

func TestFormatMetadata(t *testing.T) {
	t.Parallel()

	require.Equal(t, "md", FormatMarkdown.Extension())
	require.Equal(t, "json", FormatGraph.Extension())
	require.Equal(t, "application/yaml", FormatYAML.ContentType())
	require.Equal(t, "application/json", FormatJSON.ContentType())
}
