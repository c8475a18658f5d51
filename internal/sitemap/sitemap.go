// Package sitemap stores the pages recorded during a crawl and derives
// aggregate statistics from them.
package sitemap

import (
	"sync"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/extract"
)

// Page is the record kept for every URL the crawler fetched.
type Page struct {
	URL          string               `json:"url" yaml:"url"`
	FinalURL     string               `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	StatusCode   int                  `json:"status_code" yaml:"status_code"`
	Depth        int                  `json:"depth" yaml:"depth"`
	ParentURL    string               `json:"parent_url,omitempty" yaml:"parent_url,omitempty"`
	Title        string               `json:"title,omitempty" yaml:"title,omitempty"`
	Links        []string             `json:"links" yaml:"links"`
	Forms        []extract.FormData   `json:"forms" yaml:"forms"`
	Buttons      []extract.ButtonInfo `json:"buttons" yaml:"buttons"`
	APIEndpoints []extract.Endpoint   `json:"api_endpoints" yaml:"api_endpoints"`
	ContentHash  string               `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Attempts     int                  `json:"attempts" yaml:"attempts"`
	UsedBrowser  bool                 `json:"used_browser" yaml:"used_browser"`
	CrawledAt    time.Time            `json:"crawled_at" yaml:"crawled_at"`
	Error        string               `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the page carries an error.
func (p Page) Failed() bool {
	return p.Error != ""
}

// Statistics summarizes the stored pages.
type Statistics struct {
	TotalPages     int `json:"total_pages" yaml:"total_pages"`
	TotalLinks     int `json:"total_links" yaml:"total_links"`
	TotalForms     int `json:"total_forms" yaml:"total_forms"`
	TotalEndpoints int `json:"total_endpoints" yaml:"total_endpoints"`
}

// Store is an insertion-ordered page store keyed by URL. It is safe for
// concurrent use.
type Store struct {
	mu    sync.RWMutex
	pages map[string]int
	order []Page
}

// New returns an empty Store.
func New() *Store {
	return &Store{pages: make(map[string]int)}
}

// Add stores page. A page with a URL that is already present replaces the
// earlier record in place.
func (s *Store) Add(page Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.pages[page.URL]; ok {
		s.order[i] = page
		return
	}
	s.pages[page.URL] = len(s.order)
	s.order = append(s.order, page)
}

// Get returns the page stored for url.
func (s *Store) Get(url string) (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.pages[url]
	if !ok {
		return Page{}, false
	}
	return s.order[i], true
}

// Children returns the pages whose parent is url, in insertion order.
func (s *Store) Children(url string) []Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Page
	for _, p := range s.order {
		if p.ParentURL == url {
			out = append(out, p)
		}
	}
	return out
}

// Pages returns every stored page in insertion order.
func (s *Store) Pages() []Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Page(nil), s.order...)
}

// Len reports how many pages are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Statistics totals pages, links, forms and API endpoints.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Statistics{TotalPages: len(s.order)}
	for _, p := range s.order {
		stats.TotalLinks += len(p.Links)
		stats.TotalForms += len(p.Forms)
		stats.TotalEndpoints += len(p.APIEndpoints)
	}
	return stats
}
