// Package urlutil resolves and canonicalizes crawl URLs.
//
// Canonical form is the only identity the crawler uses for a page: two URLs
// that address the same resource must produce the same canonical string.
package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Resolve joins a possibly-relative href against base. It reports false for
// empty or fragment-only hrefs and for results lacking a scheme or host
// (mailto:, javascript:, tel: and friends).
func Resolve(base, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme == "" || abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

// Canonicalize standardizes an absolute URL for deduplication.
// It lowercases the scheme and host, drops user info and default ports,
// strips the fragment and trailing slashes, and sorts query keys while
// keeping the order of repeated values. The bare root path collapses to
// the empty path. Canonicalize is idempotent.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(netloc(scheme, u))
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))

	if query := canonicalQuery(u.RawQuery); query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String(), nil
}

type queryPair struct {
	key     string
	encoded string
}

// canonicalQuery splits raw on '&' only, so ';' stays part of a value, and
// stable-sorts the pairs by decoded key. Pairs that decode are re-escaped;
// pairs with malformed escapes are kept verbatim rather than dropped.
func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	var pairs []queryPair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(part, "=")
		key, keyErr := url.QueryUnescape(rawKey)
		value, valueErr := url.QueryUnescape(rawValue)
		if keyErr != nil || valueErr != nil {
			pairs = append(pairs, queryPair{key: rawKey, encoded: part})
			continue
		}
		pairs = append(pairs, queryPair{
			key:     key,
			encoded: url.QueryEscape(key) + "=" + url.QueryEscape(value),
		})
	}
	slices.SortStableFunc(pairs, func(a, b queryPair) int {
		return strings.Compare(a.key, b.key)
	})
	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.encoded
	}
	return strings.Join(encoded, "&")
}

// Origin returns scheme://host[:port] for raw, suitable for robots.txt lookups.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme + "://" + netloc(scheme, u), nil
}

// Hostname returns the lowercase host of raw without its port, or "" when raw
// cannot be parsed.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func netloc(scheme string, u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == defaultPorts[scheme] {
		port = ""
	}
	if port == "" {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}
