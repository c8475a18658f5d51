// Package extract pulls crawl-relevant structure out of HTML documents:
// links, forms, buttons, the title and API endpoints referenced by inline
// scripts.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecrawler/internal/urlutil"
)

const (
	linkSelector   = "a[href]"
	formSelector   = "form"
	fieldSelector  = "input, select, textarea"
	buttonSelector = "button, input[type=submit], input[type=button]"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:"}

// FormInput describes one field of a form.
type FormInput struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// FormData describes a form and where it submits.
type FormData struct {
	Action        string      `json:"action" yaml:"action"`
	Method        string      `json:"method" yaml:"method"`
	Inputs        []FormInput `json:"inputs" yaml:"inputs"`
	HasFileUpload bool        `json:"has_file_upload" yaml:"has_file_upload"`
}

// ButtonInfo describes a clickable control.
type ButtonInfo struct {
	Text    string `json:"text" yaml:"text"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	OnClick string `json:"onclick,omitempty" yaml:"onclick,omitempty"`
}

// Endpoint is an API call observed on a page.
type Endpoint struct {
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method" yaml:"method"`
	Source string `json:"source" yaml:"source"`
}

// Page is everything extracted from one document.
type Page struct {
	Title        string
	Links        []string
	Forms        []FormData
	Buttons      []ButtonInfo
	APIEndpoints []Endpoint
}

// Parse reads body as HTML and extracts its structure. Relative references
// are resolved against pageURL, or against the document's <base href> when
// one is present.
func Parse(pageURL string, body []byte) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}
	return FromDocument(pageURL, doc), nil
}

// FromDocument extracts structure from an already parsed document.
func FromDocument(pageURL string, doc *goquery.Document) Page {
	base := baseURL(pageURL, doc)
	return Page{
		Title:        Title(doc),
		Links:        Links(base, doc),
		Forms:        Forms(base, doc),
		Buttons:      Buttons(doc),
		APIEndpoints: ScriptEndpoints(base, doc),
	}
}

// Title returns the trimmed text of the first <title> element.
func Title(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// Links returns absolute anchor targets in document order without
// duplicates. Script, mail and phone links are dropped.
func Links(base string, doc *goquery.Document) []string {
	var (
		links []string
		seen  = make(map[string]struct{})
	)
	doc.Find(linkSelector).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || hasSkippedScheme(href) {
			return
		}
		abs, ok := urlutil.Resolve(base, href)
		if !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// Forms returns every form with its resolved action, upper-cased method and
// fields. A missing or unresolvable action submits to the page itself.
func Forms(base string, doc *goquery.Document) []FormData {
	var forms []FormData
	doc.Find(formSelector).Each(func(_ int, form *goquery.Selection) {
		action := base
		if raw := strings.TrimSpace(form.AttrOr("action", "")); raw != "" {
			if abs, ok := urlutil.Resolve(base, raw); ok {
				action = abs
			}
		}
		method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "")))
		if method == "" {
			method = "GET"
		}

		fd := FormData{Action: action, Method: method, Inputs: []FormInput{}}
		form.Find(fieldSelector).Each(func(_ int, field *goquery.Selection) {
			in := FormInput{
				Name:  field.AttrOr("name", ""),
				Type:  fieldType(field),
				Value: field.AttrOr("value", ""),
			}
			if in.Type == "file" {
				fd.HasFileUpload = true
			}
			fd.Inputs = append(fd.Inputs, in)
		})
		forms = append(forms, fd)
	})
	return forms
}

// Buttons returns <button> elements and submit/button inputs. Inputs carry
// their label in the value attribute.
func Buttons(doc *goquery.Document) []ButtonInfo {
	var buttons []ButtonInfo
	doc.Find(buttonSelector).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if goquery.NodeName(s) == "input" {
			text = strings.TrimSpace(s.AttrOr("value", ""))
		}
		buttons = append(buttons, ButtonInfo{
			Text:    text,
			Type:    strings.ToLower(s.AttrOr("type", "")),
			OnClick: s.AttrOr("onclick", ""),
		})
	})
	return buttons
}

func fieldType(field *goquery.Selection) string {
	switch tag := goquery.NodeName(field); tag {
	case "select", "textarea":
		return tag
	default:
		if t := strings.ToLower(strings.TrimSpace(field.AttrOr("type", ""))); t != "" {
			return t
		}
		return "text"
	}
}

func baseURL(pageURL string, doc *goquery.Document) string {
	href := strings.TrimSpace(doc.Find("base[href]").First().AttrOr("href", ""))
	if href == "" {
		return pageURL
	}
	if abs, ok := urlutil.Resolve(pageURL, href); ok {
		return abs
	}
	return pageURL
}

func hasSkippedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
