package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
)

func page(url string, depth int) crawler.PageResult {
	return crawler.PageResult{URL: url, StatusCode: 200, Depth: depth, Title: "Home", Links: []string{}}
}

func TestBuildPageNodesAndHyperlinks(t *testing.T) {
	t.Parallel()

	home := page("https://example.com", 0)
	home.Links = []string{"https://example.com/about", "https://example.com/contact"}
	about := page("https://example.com/about", 1)
	about.Links = []string{"https://example.com"}

	g := Build(crawler.Result{Pages: []crawler.PageResult{home, about}})

	require.Len(t, g.NodesByType(NodePage), 2)
	require.Len(t, g.Nodes, 2)
	links := g.EdgesByType(EdgeHyperlink)
	require.Len(t, links, 3)
	require.Equal(t, Edge{Source: "https://example.com", Target: "https://example.com/about", Type: EdgeHyperlink}, links[0])
	require.Equal(t, "https://example.com", links[2].Target)

	n, ok := g.Node("https://example.com/about")
	require.True(t, ok)
	require.Equal(t, 1, n.Metadata["depth"])
	require.Equal(t, 200, n.Metadata["status_code"])
}

func TestBuildFormsAndAPIs(t *testing.T) {
	t.Parallel()

	home := page("https://example.com", 0)
	home.Forms = []extract.FormData{{Action: "/login", Method: "POST"}, {Action: "/search", Method: "GET"}}
	home.APIEndpoints = []extract.Endpoint{{URL: "/api/users", Method: "GET", Source: "fetch"}}

	g := Build(crawler.Result{Pages: []crawler.PageResult{home}})

	forms := g.EdgesByType(EdgeFormAction)
	require.Len(t, forms, 2)
	require.Equal(t, "/login", forms[0].Target)
	require.Equal(t, "/search", forms[1].Target)

	apis := g.NodesByType(NodeAPI)
	require.Len(t, apis, 1)
	require.Equal(t, "/api/users", apis[0].URL)
	require.Equal(t, "fetch", apis[0].Metadata["source"])

	calls := g.EdgesByType(EdgeAPICall)
	require.Len(t, calls, 1)
	require.Equal(t, "https://example.com", calls[0].Source)
	require.Equal(t, "/api/users", calls[0].Target)
}

func TestPageNodeReplacesAPINode(t *testing.T) {
	t.Parallel()

	home := page("https://example.com", 0)
	home.APIEndpoints = []extract.Endpoint{{URL: "https://example.com/data", Method: "GET", Source: "xhr"}}
	data := page("https://example.com/data", 1)
	data.Title = "Data"

	g := Build(crawler.Result{Pages: []crawler.PageResult{home, data}})

	require.Len(t, g.Nodes, 2)
	n, _ := g.Node("https://example.com/data")
	require.Equal(t, NodePage, n.Type)
	require.Equal(t, "Data", n.Metadata["title"])

	// The reverse order keeps the page.
	g = New()
	g.AddNode(Node{URL: "u", Type: NodePage})
	g.AddNode(Node{URL: "u", Type: NodeAPI})
	n, _ = g.Node("u")
	require.Equal(t, NodePage, n.Type)
}

func TestEmptyResult(t *testing.T) {
	t.Parallel()

	g := Build(crawler.Result{})
	require.Equal(t, Statistics{}, g.Statistics())

	out, err := g.JSON()
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Equal(t, map[string]any{}, doc["nodes"])
	require.Equal(t, []any{}, doc["edges"])
}

func TestJSON(t *testing.T) {
	t.Parallel()

	home := page("https://example.com", 0)
	home.Links = []string{"https://example.com/about"}
	home.APIEndpoints = []extract.Endpoint{{URL: "/api/data", Method: "POST", Source: "xhr"}}

	out, err := Build(crawler.Result{Pages: []crawler.PageResult{home}}).JSON()
	require.NoError(t, err)
	require.Contains(t, string(out), "\n  \"nodes\": {")

	var doc struct {
		Nodes      map[string]Node `json:"nodes"`
		Edges      []Edge          `json:"edges"`
		Statistics Statistics      `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Nodes, 2)
	require.Len(t, doc.Edges, 2)
	require.Equal(t, NodeAPI, doc.Nodes["/api/data"].Type)
	require.Equal(t, Statistics{TotalNodes: 2, TotalEdges: 2}, doc.Statistics)
}
