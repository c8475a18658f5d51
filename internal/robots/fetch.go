package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

// maxBodyBytes caps how much of a robots.txt body is read.
const maxBodyBytes = 512 << 10

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetch downloads {origin}/robots.txt for target and parses it. Any failure,
// including a non-200 status, yields a permissive RuleSet; Fetch never fails.
func Fetch(ctx context.Context, client Doer, target, userAgent string, logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	body, err := download(ctx, client, target, userAgent)
	if err != nil {
		logger.Warn("robots.txt unavailable; allowing all", zap.String("target", target), zap.Error(err))
		return AllowAll()
	}
	rs := Parse(body)
	rules := rs.Rules(userAgent)
	if len(rules) == 0 {
		rules = rs.Rules(Wildcard)
	}
	logger.Debug("robots.txt loaded",
		zap.String("target", target),
		zap.Int("agents", rs.Agents()),
		zap.Int("rules", len(rules)),
	)
	return rs
}

func download(ctx context.Context, client Doer, target, userAgent string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	origin, err := urlutil.Origin(target)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return "", fmt.Errorf("new robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch robots: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read robots body: %w", err)
	}
	return string(data), nil
}
