package pattern

import (
	"net/url"
	"strings"
	"sync"
)

// DefaultMaxSamples is used when a Normalizer is built with a non-positive cap.
const DefaultMaxSamples = 3

// dynamicMarker stands in for a classified segment inside a structural key.
// It cannot appear in an escaped URL path.
const dynamicMarker = "\x00"

// URLPattern is the rendered shape of a URL.
type URLPattern struct {
	Scheme       string        `json:"scheme" yaml:"scheme"`
	Netloc       string        `json:"netloc" yaml:"netloc"`
	PatternPath  string        `json:"pattern_path" yaml:"pattern_path"`
	SegmentTypes []SegmentType `json:"segment_types" yaml:"segment_types"`
}

// Group is one structural shape with its samples.
type Group struct {
	Pattern    URLPattern `json:"pattern" yaml:"pattern"`
	SampleURLs []string   `json:"sample_urls" yaml:"sample_urls"`
	TotalCount int        `json:"total_count" yaml:"total_count"`
	MaxSamples int        `json:"max_samples" yaml:"max_samples"`
}

// Result is a snapshot of normalizer state.
type Result struct {
	Groups             []Group `json:"groups" yaml:"groups"`
	TotalURLsProcessed int     `json:"total_urls_processed" yaml:"total_urls_processed"`
	TotalPatternsFound int     `json:"total_patterns_found" yaml:"total_patterns_found"`
	TotalURLsSkipped   int     `json:"total_urls_skipped" yaml:"total_urls_skipped"`
}

type tracker struct {
	scheme   string
	netloc   string
	segments []string
	types    []SegmentType
	samples  []string
	total    int
}

// shape is the structural decomposition of one URL.
type shape struct {
	scheme   string
	netloc   string
	segments []string
	types    []SegmentType
}

// Normalizer tracks URL shapes across a crawl. It is safe for concurrent use.
type Normalizer struct {
	maxSamples int

	mu        sync.Mutex
	trackers  map[string]*tracker
	order     []string
	processed int
	skipped   int
}

// NewNormalizer returns a Normalizer keeping at most maxSamples URLs per shape.
func NewNormalizer(maxSamples int) *Normalizer {
	if maxSamples < 1 {
		maxSamples = DefaultMaxSamples
	}
	return &Normalizer{
		maxSamples: maxSamples,
		trackers:   make(map[string]*tracker),
	}
}

// MaxSamples reports the per-shape sample cap.
func (n *Normalizer) MaxSamples() int {
	return n.maxSamples
}

// Pattern renders the shape of rawURL from its own segment types without
// touching any tracker.
func (n *Normalizer) Pattern(rawURL string) URLPattern {
	s := decompose(rawURL)
	return render(s.scheme, s.netloc, s.segments, s.types)
}

// AddURL records rawURL against its shape and reports whether it was kept as
// a sample. Types at each dynamic position are promoted monotonically.
func (n *Normalizer) AddURL(rawURL string) bool {
	s := decompose(rawURL)
	key := s.key()

	n.mu.Lock()
	defer n.mu.Unlock()

	n.processed++
	t, ok := n.trackers[key]
	if !ok {
		n.trackers[key] = &tracker{
			scheme:   s.scheme,
			netloc:   s.netloc,
			segments: s.segments,
			types:    s.types,
			samples:  []string{rawURL},
			total:    1,
		}
		n.order = append(n.order, key)
		return true
	}

	for i := range t.types {
		t.types[i] = Promote(t.types[i], s.types[i])
	}
	t.total++
	if len(t.samples) < n.maxSamples {
		t.samples = append(t.samples, rawURL)
		return true
	}
	n.skipped++
	return false
}

// ShouldSkip reports whether the shape of rawURL already holds its full quota
// of samples. Unknown shapes are never skipped. It does not mutate state.
func (n *Normalizer) ShouldSkip(rawURL string) bool {
	key := decompose(rawURL).key()

	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.trackers[key]
	return ok && len(t.samples) >= n.maxSamples
}

// RecordSkip counts a URL that was turned away by ShouldSkip before it was
// fetched, so the skip total reflects gate decisions as well as AddURL ones.
func (n *Normalizer) RecordSkip() {
	n.mu.Lock()
	n.skipped++
	n.mu.Unlock()
}

// Result snapshots every group in first-seen order. Pattern paths use the
// current, possibly promoted, types.
func (n *Normalizer) Result() Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	groups := make([]Group, 0, len(n.order))
	for _, key := range n.order {
		t := n.trackers[key]
		groups = append(groups, Group{
			Pattern:    render(t.scheme, t.netloc, t.segments, t.types),
			SampleURLs: append([]string(nil), t.samples...),
			TotalCount: t.total,
			MaxSamples: n.maxSamples,
		})
	}
	return Result{
		Groups:             groups,
		TotalURLsProcessed: n.processed,
		TotalPatternsFound: len(groups),
		TotalURLsSkipped:   n.skipped,
	}
}

func decompose(rawURL string) shape {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{Path: rawURL}
	}
	s := shape{
		scheme: strings.ToLower(u.Scheme),
		netloc: strings.ToLower(u.Host),
	}
	path := strings.TrimPrefix(u.EscapedPath(), "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return s
	}
	s.segments = strings.Split(path, "/")
	s.types = make([]SegmentType, len(s.segments))
	for i, seg := range s.segments {
		if kind, ok := Classify(seg); ok {
			s.types[i] = kind
		}
	}
	return s
}

func (s shape) key() string {
	var b strings.Builder
	b.WriteString(s.scheme)
	b.WriteString("://")
	b.WriteString(s.netloc)
	for i, seg := range s.segments {
		b.WriteByte('/')
		if s.types[i] != TypeNone {
			b.WriteString(dynamicMarker)
			continue
		}
		b.WriteString(seg)
	}
	return b.String()
}

func render(scheme, netloc string, segments []string, types []SegmentType) URLPattern {
	p := URLPattern{Scheme: scheme, Netloc: netloc, SegmentTypes: []SegmentType{}}
	if len(segments) == 0 {
		p.PatternPath = "/"
		return p
	}
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if types[i] == TypeNone {
			parts[i] = seg
			continue
		}
		parts[i] = "<" + string(types[i]) + ">"
		p.SegmentTypes = append(p.SegmentTypes, types[i])
	}
	p.PatternPath = "/" + strings.Join(parts, "/")
	return p
}
