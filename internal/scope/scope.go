// Package scope decides whether a canonical URL belongs to a crawl.
package scope

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Filter holds the compiled scope rules for one crawl target.
// A Filter is immutable and safe for concurrent use.
type Filter struct {
	host              string
	hostname          string
	port              string
	pathPrefix        string
	includeSubdomains bool
	excludes          []compiledGlob
}

type compiledGlob struct {
	raw string
	g   glob.Glob
}

// New compiles a Filter for target. Exclude patterns use shell-style
// wildcards: '*' matches any run of characters (including '/') and '?'
// matches exactly one.
func New(target string, includeSubdomains bool, excludes []string) (*Filter, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target url %q has no host", target)
	}
	f := &Filter{
		host:              strings.ToLower(u.Host),
		hostname:          strings.ToLower(u.Hostname()),
		port:              u.Port(),
		includeSubdomains: includeSubdomains,
	}
	if p := u.EscapedPath(); p != "" && p != "/" {
		f.pathPrefix = p
	}
	for _, raw := range excludes {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		g, err := glob.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", raw, err)
		}
		f.excludes = append(f.excludes, compiledGlob{raw: raw, g: g})
	}
	return f, nil
}

// InScope reports whether rawURL passes the host, path-prefix and exclude checks.
func (f *Filter) InScope(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if !f.hostAllowed(u) {
		return false
	}
	path := u.EscapedPath()
	if f.pathPrefix != "" && !strings.HasPrefix(path, f.pathPrefix) {
		return false
	}
	return f.Excluded(rawURL, path) == ""
}

// Excluded returns the first exclude pattern matching path or the full URL,
// or "" when none does.
func (f *Filter) Excluded(rawURL, path string) string {
	for _, ex := range f.excludes {
		if ex.g.Match(path) || ex.g.Match(rawURL) {
			return ex.raw
		}
	}
	return ""
}

func (f *Filter) hostAllowed(u *url.URL) bool {
	if strings.ToLower(u.Host) == f.host {
		return true
	}
	if !f.includeSubdomains {
		return false
	}
	return u.Port() == f.port && strings.HasSuffix(strings.ToLower(u.Hostname()), "."+f.hostname)
}
