package publisher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/publisher"
	"github.com/JakeFAU/sitecrawler/internal/publisher/memory"
)

func TestPageSinkPublishesPages(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := publisher.NewPageSink(pub, "pages", "crawl-1")
	require.NoError(t, err)

	page := crawler.PageResult{URL: "https://example.com", StatusCode: 200}
	require.NoError(t, sink.Put(context.Background(), page))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "pages", msgs[0].Topic)
	require.Equal(t, publisher.PageMessage{CrawlID: "crawl-1", Page: page}, msgs[0].Payload)
}

type failingPublisher struct{ mock.Mock }

func (f *failingPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := f.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func TestPageSinkWrapsErrors(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	pub.On("Publish", mock.Anything, "pages", mock.Anything).Return("", errors.New("unavailable"))

	sink, err := publisher.NewPageSink(pub, "pages", "crawl-1")
	require.NoError(t, err)
	err = sink.Put(context.Background(), crawler.PageResult{URL: "https://example.com/a"})
	require.ErrorContains(t, err, "publish page https://example.com/a: unavailable")
	pub.AssertExpectations(t)

	_, err = publisher.NewPageSink(nil, "pages", "crawl-1")
	require.Error(t, err)
}
