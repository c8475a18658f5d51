// Package publisher forwards crawled pages to a message bus.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// PageMessage is the payload published for every stored page.
type PageMessage struct {
	CrawlID string             `json:"crawl_id"`
	Page    crawler.PageResult `json:"page"`
}

// PageSink publishes each page it receives to one topic.
type PageSink struct {
	pub     crawler.Publisher
	topic   string
	crawlID string
}

// NewPageSink binds pub to topic for one crawl.
func NewPageSink(pub crawler.Publisher, topic, crawlID string) (*PageSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &PageSink{pub: pub, topic: topic, crawlID: crawlID}, nil
}

// Put publishes page and waits for the broker to accept it.
func (s *PageSink) Put(ctx context.Context, page crawler.PageResult) error {
	if _, err := s.pub.Publish(ctx, s.topic, PageMessage{CrawlID: s.crawlID, Page: page}); err != nil {
		return fmt.Errorf("publish page %s: %w", page.URL, err)
	}
	return nil
}
