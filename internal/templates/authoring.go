package templates

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const markerSelector = ".metadata-field, .section-topic"

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// UniqueFieldID returns base if it is free, otherwise base-2, base-3, ...
func UniqueFieldID(base string, taken map[string]bool) string {
	if base == "" {
		base = "field"
	}
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Slug turns a marker title into an id candidate.
func Slug(title string) string {
	slug := nonSlug.ReplaceAllString(strings.ToLower(foldAccents(title)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	return slug
}

// NormalizeMarkers gives every modern marker a stable, unique data-field-id
// and returns the rewritten body. Markers keep an existing id unless another
// marker earlier in the document already claimed it.
func NormalizeMarkers(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	taken := map[string]bool{}
	changed := false
	doc.Find(markerSelector).Each(func(_ int, marker *goquery.Selection) {
		current := strings.TrimSpace(marker.AttrOr("data-field-id", marker.AttrOr("id", "")))
		base := current
		if base == "" {
			base = Slug(html.UnescapeString(marker.AttrOr("data-title", marker.AttrOr("title", marker.Text()))))
		}
		id := UniqueFieldID(base, taken)
		taken[id] = true
		if id != current || marker.AttrOr("data-field-id", "") != id {
			marker.SetAttr("data-field-id", id)
			changed = true
		}
	})
	if !changed {
		return raw, nil
	}
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return body, nil
}

// OutlineItem is one entry of the template editor's structural sidebar.
type OutlineItem struct {
	Kind  string `json:"kind"`
	Level int    `json:"level,omitempty"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
}

// Outline lists headings and field markers in document order.
func Outline(raw string) ([]OutlineItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	items := make([]OutlineItem, 0)
	doc.Find("h1, h2, h3, h4, " + markerSelector).Each(func(_ int, node *goquery.Selection) {
		if node.Is(markerSelector) {
			items = append(items, OutlineItem{
				Kind:  "field",
				ID:    node.AttrOr("data-field-id", node.AttrOr("id", "")),
				Title: strings.TrimSpace(html.UnescapeString(node.AttrOr("data-title", node.AttrOr("title", node.Text())))),
			})
			return
		}
		level, _ := strconv.Atoi(strings.TrimPrefix(goquery.NodeName(node), "h"))
		items = append(items, OutlineItem{
			Kind:  "heading",
			Level: level,
			Title: strings.TrimSpace(node.Text()),
		})
	})
	return items, nil
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "ê", "e", "è", "e",
	"í", "i", "ì", "i",
	"ó", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
	"Á", "a", "À", "a", "Â", "a", "Ã", "a",
	"É", "e", "Ê", "e",
	"Í", "i",
	"Ó", "o", "Ô", "o", "Õ", "o",
	"Ú", "u",
	"Ç", "c",
)

func foldAccents(value string) string {
	return accentReplacer.Replace(value)
}
