// Package detector decides when a page needs a browser to render.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultScriptThreshold is the number of external scripts at which a page
// is treated as a single-page application.
const DefaultScriptThreshold = 5

// spaMarkers are mount points used by common client-side frameworks.
var spaMarkers = []string{
	"#root",
	"#app",
	"#__next",
	"[data-reactroot]",
	"[ng-app]",
}

// vueScopePrefix marks Vue scoped-style attributes such as data-v-7ba5bd90.
const vueScopePrefix = "data-v-"

// Heuristic flags client-rendered pages from markup signals alone.
type Heuristic struct {
	ScriptThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultScriptThreshold
	}
	return &Heuristic{ScriptThreshold: threshold}
}

// ShouldPromote decides whether a browser fetch is required for a response.
// Only successful responses are candidates; an empty 200 body is promoted.
func (h *Heuristic) ShouldPromote(statusCode int, body []byte) bool {
	if statusCode != 200 {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	return h.IsSPA(body)
}

// IsSPA reports whether body carries a framework mount point or at least
// ScriptThreshold external scripts.
func (h *Heuristic) IsSPA(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return h.IsSPADocument(doc)
}

// IsSPADocument is IsSPA for a parsed document.
func (h *Heuristic) IsSPADocument(doc *goquery.Document) bool {
	for _, marker := range spaMarkers {
		if doc.Find(marker).Length() > 0 {
			return true
		}
	}
	if hasVueScope(doc) {
		return true
	}
	threshold := h.ScriptThreshold
	if threshold <= 0 {
		threshold = DefaultScriptThreshold
	}
	return doc.Find("script[src]").Length() >= threshold
}

func hasVueScope(doc *goquery.Document) bool {
	found := false
	doc.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(attr.Key, vueScopePrefix) {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
