package fetcher

import (
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/extract"
	"github.com/JakeFAU/sitecrawler/internal/hash/sha256"
)

// BuildResult turns the final outcome of a retry loop into a FetchResult.
// Structure is only extracted from responses below 400.
func BuildResult(pageURL string, out Outcome, attempts int) crawler.FetchResult {
	if !out.HasResponse() {
		reason := out.Reason
		if reason == "" {
			reason = ReasonRequest
		}
		return crawler.FetchResult{Attempts: attempts, Err: reason}
	}

	resp := out.Response
	res := crawler.FetchResult{
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ContentHash: sha256.ContentHash(resp.Body),
		BodyBytes:   len(resp.Body),
		Attempts:    attempts,
	}
	if resp.StatusCode >= 400 {
		return res
	}

	base := resp.FinalURL
	if base == "" {
		base = pageURL
	}
	page, err := extract.Parse(base, resp.Body)
	if err != nil {
		return res
	}
	ApplyPage(&res, page)
	return res
}

// ApplyPage copies extracted structure onto res.
func ApplyPage(res *crawler.FetchResult, page extract.Page) {
	res.Title = page.Title
	res.Links = page.Links
	res.Forms = page.Forms
	res.Buttons = page.Buttons
	res.APIEndpoints = page.APIEndpoints
}
