package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
)

func strPtr(s string) *string { return &s }

func TestPageSinkInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStore(mock, "")
	require.NoError(t, err)

	crawledAt := time.Unix(1700000000, 0).UTC()
	page := crawler.PageResult{
		URL:         "https://example.com/about",
		StatusCode:  200,
		Depth:       1,
		ParentURL:   "https://example.com",
		Title:       "About",
		Links:       []string{"https://example.com"},
		Forms:       []extract.FormData{{Action: "/search", Method: "GET"}},
		ContentHash: "abc123",
		Attempts:    1,
		CrawledAt:   crawledAt,
	}

	mock.ExpectExec("INSERT INTO crawl_pages").
		WithArgs(
			"crawl-1",
			page.URL,
			(*string)(nil),
			strPtr("https://example.com"),
			1,
			200,
			strPtr("About"),
			strPtr("abc123"),
			1,
			false,
			(*string)(nil),
			[]byte(`["https://example.com"]`),
			[]byte(`[{"action":"/search","method":"GET","inputs":null,"has_file_upload":false}]`),
			[]byte(`[]`),
			crawledAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := store.ForCrawl("crawl-1")
	require.NoError(t, sink.Put(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageSinkFailedPage(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPageStore(mock, "pages_v2")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages_v2").
		WithArgs(
			"crawl-1", "https://example.com/down", pgxmock.AnyArg(), pgxmock.AnyArg(),
			2, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), 4, false,
			strPtr("timed out"),
			[]byte(`[]`), []byte(`[]`), []byte(`[]`), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection reset"))

	err = store.InsertPage(context.Background(), "crawl-1", crawler.PageResult{
		URL:      "https://example.com/down",
		Depth:    2,
		Attempts: 4,
		Error:    "timed out",
	})
	require.ErrorContains(t, err, "insert page https://example.com/down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPageStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPageStore(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPageStore(mock, "pages; DROP TABLE x")
	require.Error(t, err)

	store, err := NewPageStore(mock, "")
	require.NoError(t, err)
	require.Error(t, store.InsertPage(context.Background(), "", crawler.PageResult{URL: "u"}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, EnsureSchema(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.EqualError(t, err, "db.dsn is required")
}
