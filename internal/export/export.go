// Package export renders crawl results for people and tools.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/graph"
	"github.com/JakeFAU/sitecrawler/internal/sitemap"
)

// Format selects an output encoding.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatGraph    Format = "graph"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown format")

// ParseFormat maps a user-supplied name to a Format. The empty string means
// JSON; "md" and "yml" are accepted as aliases.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "graph":
		return FormatGraph, nil
	default:
		return "", fmt.Errorf("%w %q: choose from json, yaml, text, markdown, graph", ErrUnknownFormat, name)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatText:
		return "txt"
	case FormatMarkdown:
		return "md"
	default:
		return "json"
	}
}

// Render encodes result in format f.
func Render(result crawler.Result, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, result, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes result to w in format f.
func Write(w io.Writer, result crawler.Result, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatYAML:
		return writeYAML(w, result)
	case FormatText:
		return writeText(w, result)
	case FormatMarkdown:
		return writeMarkdown(w, result)
	case FormatGraph:
		out, err := graph.Build(result).JSON()
		if err != nil {
			return err
		}
		_, err = w.Write(append(out, '\n'))
		return err
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, string(f))
	}
}

func writeJSON(w io.Writer, result crawler.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, result crawler.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return nil
}

func writeText(w io.Writer, result crawler.Result) error {
	stats := result.Statistics
	var b strings.Builder
	fmt.Fprintf(&b, "Crawl Results: %s\n\n", result.TargetURL)
	b.WriteString("Statistics:\n")
	fmt.Fprintf(&b, "  Pages crawled: %d\n", stats.TotalPages)
	fmt.Fprintf(&b, "  Total links:   %d\n", stats.TotalLinks)
	fmt.Fprintf(&b, "  Duration:      %.1fs\n", stats.DurationSeconds)
	if result.Canceled {
		b.WriteString("  Canceled:      yes\n")
	}
	b.WriteString("\nPages:\n")
	for _, p := range result.Pages {
		fmt.Fprintf(&b, "  %s [%d] depth=%d links=%d forms=%d endpoints=%d",
			p.URL, p.StatusCode, p.Depth, len(p.Links), len(p.Forms), len(p.APIEndpoints))
		if p.Error != "" {
			fmt.Fprintf(&b, " error=%q", p.Error)
		}
		b.WriteByte('\n')
	}
	writeTree(&b, result.Pages)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

// writeTree prints pages nested under the page that discovered them. Pages
// whose parent was not stored start their own branch.
func writeTree(b *strings.Builder, pages []crawler.PageResult) {
	if len(pages) == 0 {
		return
	}
	store := sitemap.New()
	for _, p := range pages {
		store.Add(p)
	}
	seen := make(map[string]struct{}, len(pages))
	var walk func(p sitemap.Page, level int)
	walk = func(p sitemap.Page, level int) {
		if _, ok := seen[p.URL]; ok {
			return
		}
		seen[p.URL] = struct{}{}
		fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", level+1), p.URL)
		for _, child := range store.Children(p.URL) {
			walk(child, level+1)
		}
	}

	b.WriteString("\nSite tree:\n")
	for _, p := range store.Pages() {
		if _, ok := store.Get(p.ParentURL); ok && p.ParentURL != p.URL {
			continue
		}
		walk(p, 0)
	}
}

func writeMarkdown(w io.Writer, result crawler.Result) error {
	md := markdown.NewMarkdown(w)
	md.H1("Crawl Results: " + result.TargetURL)
	md.PlainText("")

	stats := result.Statistics
	md.H2("Statistics")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Pages", strconv.Itoa(stats.TotalPages)},
			{"Links", strconv.Itoa(stats.TotalLinks)},
			{"Forms", strconv.Itoa(stats.TotalForms)},
			{"Endpoints", strconv.Itoa(stats.TotalEndpoints)},
			{"Duration", strconv.FormatFloat(stats.DurationSeconds, 'f', 1, 64) + "s"},
			{"Canceled", strconv.FormatBool(result.Canceled)},
		},
	})
	md.PlainText("")

	md.H2("Pages")
	md.PlainText("")
	rows := make([][]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		status := strconv.Itoa(p.StatusCode)
		if p.Error != "" {
			status += " (" + p.Error + ")"
		}
		rows = append(rows, []string{
			cell(p.URL),
			cell(status),
			strconv.Itoa(p.Depth),
			strconv.Itoa(len(p.Links)),
			strconv.Itoa(len(p.Forms)),
			strconv.Itoa(len(p.APIEndpoints)),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Status", "Depth", "Links", "Forms", "Endpoints"},
		Rows:   rows,
	})
	md.PlainText("")

	if result.Patterns != nil && len(result.Patterns.Groups) > 0 {
		md.H2("URL Patterns")
		md.PlainText("")
		groups := make([][]string, 0, len(result.Patterns.Groups))
		for _, g := range result.Patterns.Groups {
			groups = append(groups, []string{
				"`" + cell(g.Pattern.PatternPath) + "`",
				strconv.Itoa(g.TotalCount),
				strconv.Itoa(len(g.SampleURLs)),
			})
		}
		md.Table(markdown.TableSet{
			Header: []string{"Pattern", "Seen", "Sampled"},
			Rows:   groups,
		})
		md.PlainText("")
	}

	if err := md.Build(); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	return nil
}

// cell escapes pipes so values cannot split a table column.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
