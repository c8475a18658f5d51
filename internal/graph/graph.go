// Package graph turns a crawl result into a knowledge graph of pages, API
// endpoints and the links between them.
package graph

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// NodeType classifies a graph node.
type NodeType string

// Node types.
const (
	NodePage NodeType = "PAGE"
	NodeAPI  NodeType = "API"
)

// EdgeType classifies a relationship between two URLs.
type EdgeType string

// Edge types.
const (
	EdgeHyperlink  EdgeType = "HYPERLINK"
	EdgeFormAction EdgeType = "FORM_ACTION"
	EdgeAPICall    EdgeType = "API_CALL"
)

// Node is a page or an API endpoint.
type Node struct {
	URL      string         `json:"url"`
	Type     NodeType       `json:"node_type"`
	Metadata map[string]any `json:"metadata"`
}

// Edge connects Source to Target.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"edge_type"`
}

// Statistics counts nodes and edges.
type Statistics struct {
	TotalNodes int `json:"total_nodes"`
	TotalEdges int `json:"total_edges"`
}

// Graph holds nodes keyed by URL and edges in discovery order.
type Graph struct {
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`

	order []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{Nodes: make(map[string]Node), Edges: []Edge{}}
}

// AddNode inserts n. A PAGE node replaces an API node for the same URL;
// any other duplicate is ignored.
func (g *Graph) AddNode(n Node) {
	if existing, ok := g.Nodes[n.URL]; ok {
		if existing.Type == NodeAPI && n.Type == NodePage {
			g.Nodes[n.URL] = n
		}
		return
	}
	g.Nodes[n.URL] = n
	g.order = append(g.order, n.URL)
}

// AddEdge appends e.
func (g *Graph) AddEdge(e Edge) {
	g.Edges = append(g.Edges, e)
}

// Node returns the node for url.
func (g *Graph) Node(url string) (Node, bool) {
	n, ok := g.Nodes[url]
	return n, ok
}

// NodesByType returns nodes of type t in insertion order.
func (g *Graph) NodesByType(t NodeType) []Node {
	var out []Node
	for _, url := range g.order {
		if n := g.Nodes[url]; n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// EdgesByType returns edges of type t in insertion order.
func (g *Graph) EdgesByType(t EdgeType) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Statistics reports node and edge totals.
func (g *Graph) Statistics() Statistics {
	return Statistics{TotalNodes: len(g.Nodes), TotalEdges: len(g.Edges)}
}

// Build derives a graph from a crawl result. Each page becomes a PAGE node
// with HYPERLINK edges to its links and FORM_ACTION edges to its form
// targets. Observed API calls become API nodes joined by API_CALL edges.
func Build(result crawler.Result) *Graph {
	g := New()
	for _, page := range result.Pages {
		g.AddNode(Node{
			URL:  page.URL,
			Type: NodePage,
			Metadata: map[string]any{
				"status_code": page.StatusCode,
				"title":       page.Title,
				"depth":       page.Depth,
			},
		})
		for _, link := range page.Links {
			g.AddEdge(Edge{Source: page.URL, Target: link, Type: EdgeHyperlink})
		}
		for _, form := range page.Forms {
			g.AddEdge(Edge{Source: page.URL, Target: form.Action, Type: EdgeFormAction})
		}
		for _, ep := range page.APIEndpoints {
			g.AddNode(Node{
				URL:  ep.URL,
				Type: NodeAPI,
				Metadata: map[string]any{
					"method": ep.Method,
					"source": ep.Source,
				},
			})
			g.AddEdge(Edge{Source: page.URL, Target: ep.URL, Type: EdgeAPICall})
		}
	}
	return g
}

type document struct {
	Nodes      map[string]Node `json:"nodes"`
	Edges      []Edge          `json:"edges"`
	Statistics Statistics      `json:"statistics"`
}

// JSON renders g with two-space indentation. Nodes are keyed by URL.
func (g *Graph) JSON() ([]byte, error) {
	doc := document{Nodes: g.Nodes, Edges: g.Edges, Statistics: g.Statistics()}
	if doc.Nodes == nil {
		doc.Nodes = map[string]Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal graph: %w", err)
	}
	return out, nil
}
