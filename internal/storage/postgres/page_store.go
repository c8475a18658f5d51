package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// PageStore writes one crawl_pages row per stored page.
type PageStore struct {
	db    DB
	table string
}

// NewPageStore returns a PageStore writing to table (default crawl_pages).
func NewPageStore(db DB, table string) (*PageStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	table, err := checkTable(table, "crawl_pages")
	if err != nil {
		return nil, err
	}
	return &PageStore{db: db, table: table}, nil
}

// ForCrawl returns a PageSink that tags rows with crawlID.
func (s *PageStore) ForCrawl(crawlID string) crawler.PageSink {
	return &pageSink{store: s, crawlID: crawlID}
}

// InsertPage upserts page for crawlID. Storing the same URL twice for one
// crawl keeps the latest values.
func (s *PageStore) InsertPage(ctx context.Context, crawlID string, page crawler.PageResult) error {
	if crawlID == "" {
		return errors.New("crawl id is required")
	}
	links, err := json.Marshal(nonNil(page.Links))
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	forms, err := json.Marshal(nonNil(page.Forms))
	if err != nil {
		return fmt.Errorf("marshal forms: %w", err)
	}
	endpoints, err := json.Marshal(nonNil(page.APIEndpoints))
	if err != nil {
		return fmt.Errorf("marshal api endpoints: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	crawl_id, url, final_url, parent_url, depth, status_code, title,
	content_hash, attempts, used_browser, error, links, forms, api_endpoints, crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (crawl_id, url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	status_code = EXCLUDED.status_code,
	title = EXCLUDED.title,
	content_hash = EXCLUDED.content_hash,
	attempts = EXCLUDED.attempts,
	used_browser = EXCLUDED.used_browser,
	error = EXCLUDED.error,
	links = EXCLUDED.links,
	forms = EXCLUDED.forms,
	api_endpoints = EXCLUDED.api_endpoints,
	crawled_at = EXCLUDED.crawled_at`, s.table)

	args := []any{
		crawlID,
		page.URL,
		nullable(page.FinalURL),
		nullable(page.ParentURL),
		page.Depth,
		page.StatusCode,
		nullable(page.Title),
		nullable(page.ContentHash),
		page.Attempts,
		page.UsedBrowser,
		nullable(page.Error),
		links,
		forms,
		endpoints,
		page.CrawledAt,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page %s: %w", page.URL, err)
	}
	return nil
}

type pageSink struct {
	store   *PageStore
	crawlID string
}

func (p *pageSink) Put(ctx context.Context, page crawler.PageResult) error {
	return p.store.InsertPage(ctx, p.crawlID, page)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
