// Package robots parses robots.txt bodies and answers allow/disallow queries
// using longest-match-wins semantics.
package robots

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Wildcard is the user-agent token that applies to every crawler.
const Wildcard = "*"

// Rule is one Allow or Disallow directive.
type Rule struct {
	Allow   bool
	Pattern string
	re      *regexp.Regexp
}

// RuleSet is the parsed form of a robots.txt body. It is read-only after
// Parse returns and safe for concurrent use.
type RuleSet struct {
	rules  map[string][]Rule
	delays map[string]float64
}

// Parse builds a RuleSet from a robots.txt body. Malformed lines are skipped;
// an empty body yields a set that allows everything.
//
// Consecutive User-agent lines share one group. A User-agent line that
// follows a directive starts a new group.
func Parse(body string) *RuleSet {
	rs := &RuleSet{
		rules:  make(map[string][]Rule),
		delays: make(map[string]float64),
	}

	var (
		agents     []string
		groupFresh bool
	)
	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directive, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			if !groupFresh {
				agents = agents[:0]
				groupFresh = true
			}
			agent := strings.ToLower(value)
			agents = append(agents, agent)
			if _, exists := rs.rules[agent]; !exists {
				rs.rules[agent] = nil
			}
		case "allow", "disallow":
			if len(agents) == 0 {
				continue
			}
			groupFresh = false
			if value == "" {
				continue
			}
			rule := Rule{Allow: directive == "allow", Pattern: value, re: compilePattern(value)}
			for _, agent := range agents {
				rs.rules[agent] = append(rs.rules[agent], rule)
			}
		case "crawl-delay":
			if len(agents) == 0 {
				continue
			}
			groupFresh = false
			delay, err := strconv.ParseFloat(value, 64)
			if err != nil {
				continue
			}
			for _, agent := range agents {
				rs.delays[agent] = delay
			}
		}
	}
	return rs
}

// AllowAll returns an empty RuleSet, which permits every URL.
func AllowAll() *RuleSet {
	return Parse("")
}

// Allowed reports whether userAgent may fetch rawURL. Rules for the agent
// are used when present, otherwise the wildcard group; with neither, the
// URL is allowed. The longest matching pattern decides, and Allow wins a
// tie of equal length.
func (rs *RuleSet) Allowed(rawURL, userAgent string) bool {
	if rs == nil {
		return true
	}
	rules, ok := rs.lookupRules(userAgent)
	if !ok || len(rules) == 0 {
		return true
	}
	path := requestPath(rawURL)

	bestLen := -1
	allowed := true
	for _, rule := range rules {
		if !rule.re.MatchString(path) {
			continue
		}
		n := len(rule.Pattern)
		switch {
		case n > bestLen:
			bestLen = n
			allowed = rule.Allow
		case n == bestLen && rule.Allow:
			allowed = true
		}
	}
	return allowed
}

// CrawlDelay returns the Crawl-delay in seconds for userAgent, falling back
// to the wildcard group.
func (rs *RuleSet) CrawlDelay(userAgent string) (float64, bool) {
	if rs == nil {
		return 0, false
	}
	if d, ok := rs.delays[strings.ToLower(userAgent)]; ok {
		return d, true
	}
	d, ok := rs.delays[Wildcard]
	return d, ok
}

// Rules returns a copy of the rules recorded for agent (lowercased), without
// wildcard fallback.
func (rs *RuleSet) Rules(agent string) []Rule {
	if rs == nil {
		return nil
	}
	src := rs.rules[strings.ToLower(agent)]
	out := make([]Rule, len(src))
	copy(out, src)
	return out
}

// Agents reports how many distinct user-agent groups were declared.
func (rs *RuleSet) Agents() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

func (rs *RuleSet) lookupRules(userAgent string) ([]Rule, bool) {
	if rules, ok := rs.rules[strings.ToLower(userAgent)]; ok {
		return rules, true
	}
	rules, ok := rs.rules[Wildcard]
	return rules, ok
}

// compilePattern turns a robots path pattern into an anchored regexp: '*'
// matches any run of characters and a trailing '$' pins the end of the path.
// Everything else is literal.
func compilePattern(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchored {
		expr += "$"
	}
	return regexp.MustCompile(expr)
}

func requestPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}
