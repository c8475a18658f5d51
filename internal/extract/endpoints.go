package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

var (
	fetchCallRe = regexp.MustCompile(`\bfetch\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `](?:\s*,\s*\{[^}]*?\bmethod\s*:\s*["'](\w+)["'])?`)
	axiosCallRe = regexp.MustCompile(`\baxios\.(get|post|put|patch|delete|head)\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)
	xhrOpenRe   = regexp.MustCompile(`\.open\(\s*["'](\w+)["']\s*,\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`)
)

// EndpointSet collects endpoints, dropping repeats of the same URL and method.
type EndpointSet struct {
	seen  map[string]struct{}
	items []Endpoint
}

// Add records ep unless an endpoint with the same URL and method exists.
// It reports whether ep was new.
func (s *EndpointSet) Add(ep Endpoint) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	ep.Method = strings.ToUpper(ep.Method)
	key := ep.Method + " " + ep.URL
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, ep)
	return true
}

// Merge adds every endpoint in eps.
func (s *EndpointSet) Merge(eps []Endpoint) {
	for _, ep := range eps {
		s.Add(ep)
	}
}

// Items returns the collected endpoints in insertion order.
func (s *EndpointSet) Items() []Endpoint {
	return append([]Endpoint(nil), s.items...)
}

// ScriptEndpoints scans inline <script> bodies for fetch, axios and
// XMLHttpRequest calls with literal URLs.
func ScriptEndpoints(base string, doc *goquery.Document) []Endpoint {
	var set EndpointSet
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		set.Merge(ScanScript(base, s.Text()))
	})
	return set.Items()
}

// ScanScript finds API calls in a JavaScript source. Relative URLs are
// resolved against base when possible and kept verbatim otherwise.
func ScanScript(base, src string) []Endpoint {
	var set EndpointSet
	for _, m := range fetchCallRe.FindAllStringSubmatch(src, -1) {
		method := m[2]
		if method == "" {
			method = "GET"
		}
		set.Add(Endpoint{URL: resolveEndpoint(base, m[1]), Method: method, Source: "fetch"})
	}
	for _, m := range axiosCallRe.FindAllStringSubmatch(src, -1) {
		set.Add(Endpoint{URL: resolveEndpoint(base, m[2]), Method: m[1], Source: "axios"})
	}
	for _, m := range xhrOpenRe.FindAllStringSubmatch(src, -1) {
		set.Add(Endpoint{URL: resolveEndpoint(base, m[2]), Method: m[1], Source: "xhr"})
	}
	return set.Items()
}

func resolveEndpoint(base, ref string) string {
	if abs, ok := urlutil.Resolve(base, ref); ok {
		return abs
	}
	return ref
}
