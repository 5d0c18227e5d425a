// Package templates converts rich-text template bodies into the ordered
// section list that seeds a new document.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/google/uuid"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"sgid/api/internal/richtext"
	"sgid/api/internal/store"
)

// MarkerFormat identifies which marker syntax produced a section list.
type MarkerFormat int

const (
	// FormatNone means the template carries no markers at all.
	FormatNone MarkerFormat = iota
	// FormatModern markers are elements classed metadata-field or section-topic.
	FormatModern
	// FormatLegacy markers are <!-- START:id:title --> ... <!-- END --> comment pairs.
	FormatLegacy
)

func (f MarkerFormat) String() string {
	switch f {
	case FormatModern:
		return "modern"
	case FormatLegacy:
		return "legacy"
	default:
		return "none"
	}
}

var markerClasses = []string{"metadata-field", "section-topic"}

var (
	ErrNoMarkers = errors.New("template has no markers of this format")

	legacyStart = regexp.MustCompile(`<!--\s*START:([^:]*?):(.*?)\s*-->`)
	legacyEnd   = regexp.MustCompile(`<!--\s*END\s*-->`)
)

// parseModern is swapped in tests to exercise the legacy fall-through.
var parseModern = ParseModern

// Result is a parsed template together with the format that produced it.
type Result struct {
	Format   MarkerFormat
	Sections []store.Section
}

// ParseTemplateToSections never fails: any parse problem degrades to a single
// fixed section holding the raw body.
func ParseTemplateToSections(raw string) []store.Section {
	return Parse(raw).Sections
}

// Parse detects the marker format and dispatches to the matching parser.
func Parse(raw string) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = fallback(raw)
		}
	}()

	format := DetectFormat(raw)
	var (
		sections []store.Section
		err      error
	)
	switch format {
	case FormatModern:
		sections, err = parseModern(raw)
	case FormatLegacy:
		sections, err = ParseLegacy(raw)
	default:
		return fallback(raw)
	}
	if (err != nil || len(sections) == 0) && format == FormatModern {
		format = FormatLegacy
		sections, err = ParseLegacy(raw)
	}
	if err != nil || len(sections) == 0 {
		return fallback(raw)
	}
	return Result{Format: format, Sections: sections}
}

// DetectFormat reports which marker syntax a template uses. Modern markers
// take precedence when both are present.
func DetectFormat(raw string) MarkerFormat {
	if nodes, err := parseFragment(raw); err == nil {
		for _, node := range nodes {
			if containsMarker(node) {
				return FormatModern
			}
		}
	}
	if legacyStart.MatchString(raw) && legacyEnd.MatchString(raw) {
		return FormatLegacy
	}
	return FormatNone
}

func fallback(raw string) Result {
	return Result{
		Format:   FormatNone,
		Sections: []store.Section{fixedSection(1, strings.TrimSpace(raw))},
	}
}

// ParseModern walks top-level nodes, flushing accumulated markup as fixed
// sections around every marker element. Wrapper elements that contain
// markers are descended into and their own tags dropped.
func ParseModern(raw string) ([]store.Section, error) {
	nodes, err := parseFragment(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template html: %w", err)
	}

	b := &builder{}
	found := false
	var walk func(nodes []*xhtml.Node) error
	walk = func(nodes []*xhtml.Node) error {
		for _, node := range nodes {
			switch {
			case isMarker(node):
				found = true
				b.flush()
				b.emit(markerSection(node))
			case containsMarker(node):
				if err := walk(children(node)); err != nil {
					return err
				}
			default:
				if err := xhtml.Render(&b.buf, node); err != nil {
					return fmt.Errorf("render template node: %w", err)
				}
			}
		}
		return nil
	}
	if err := walk(nodes); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoMarkers
	}
	b.flush()
	return b.finish(), nil
}

// ParseLegacy scans START/END comment pairs. A START without a later END, or
// one followed by another START before its END, is kept as fixed markup.
func ParseLegacy(raw string) ([]store.Section, error) {
	b := &builder{}
	found := false
	rest := raw
	for {
		start := legacyStart.FindStringSubmatchIndex(rest)
		if start == nil {
			break
		}
		afterStart := rest[start[1]:]
		end := legacyEnd.FindStringIndex(afterStart)
		if end == nil {
			break
		}
		if next := legacyStart.FindStringIndex(afterStart); next != nil && next[0] < end[0] {
			b.buf.WriteString(rest[:start[1]+next[0]])
			rest = afterStart[next[0]:]
			continue
		}

		found = true
		b.buf.WriteString(rest[:start[0]])
		b.flush()

		id := strings.TrimSpace(rest[start[2]:start[3]])
		title := html.UnescapeString(strings.TrimSpace(rest[start[4]:start[5]]))
		b.emit(editableSection(id, title, richtext.PlainText(afterStart[:end[0]])))
		rest = afterStart[end[1]:]
	}
	if !found {
		return nil, ErrNoMarkers
	}
	b.buf.WriteString(rest)
	b.flush()
	return b.finish(), nil
}

type builder struct {
	buf      bytes.Buffer
	sections []store.Section
}

func (b *builder) flush() {
	content := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	if content == "" {
		return
	}
	b.sections = append(b.sections, store.Section{Content: content})
}

func (b *builder) emit(section store.Section) {
	b.sections = append(b.sections, section)
}

// finish numbers fixed sections fixed-1, fixed-2, ... in document order,
// skipping any number a marker id already claims.
func (b *builder) finish() []store.Section {
	taken := make(map[string]bool, len(b.sections))
	for _, section := range b.sections {
		if section.Editable {
			taken[section.ID] = true
		}
	}
	n := 0
	for i := range b.sections {
		if b.sections[i].Editable {
			continue
		}
		for {
			n++
			if id := fixedID(n); !taken[id] {
				b.sections[i].ID = id
				taken[id] = true
				break
			}
		}
	}
	return b.sections
}

func fixedID(n int) string {
	return fmt.Sprintf("fixed-%d", n)
}

func fixedSection(n int, content string) store.Section {
	return store.Section{ID: fixedID(n), Content: content}
}

func editableSection(id, title, help string) store.Section {
	if id == "" {
		id = uuid.NewString()
	}
	return store.Section{ID: id, Title: title, Editable: true, HelpText: help}
}

func markerSection(node *xhtml.Node) store.Section {
	id := firstAttr(node, "data-field-id", "id")
	// Attribute values arrive entity-decoded from the tokenizer.
	title := firstAttr(node, "data-title", "title")
	if title == "" {
		title = strings.TrimSpace(textContent(node))
	}
	return editableSection(id, title, attr(node, "data-help"))
}

func parseFragment(raw string) ([]*xhtml.Node, error) {
	return xhtml.ParseFragment(strings.NewReader(raw), &xhtml.Node{
		Type:     xhtml.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
}

func isMarker(node *xhtml.Node) bool {
	if node.Type != xhtml.ElementNode {
		return false
	}
	for _, class := range strings.Fields(attr(node, "class")) {
		for _, marker := range markerClasses {
			if class == marker {
				return true
			}
		}
	}
	return false
}

func containsMarker(node *xhtml.Node) bool {
	if isMarker(node) {
		return true
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if containsMarker(child) {
			return true
		}
	}
	return false
}

func children(node *xhtml.Node) []*xhtml.Node {
	var out []*xhtml.Node
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		out = append(out, child)
	}
	return out
}

func attr(node *xhtml.Node, key string) string {
	for _, a := range node.Attr {
		if a.Namespace == "" && a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func firstAttr(node *xhtml.Node, keys ...string) string {
	for _, key := range keys {
		if value := attr(node, key); value != "" {
			return value
		}
	}
	return ""
}

func textContent(node *xhtml.Node) string {
	if node.Type == xhtml.TextNode {
		return node.Data
	}
	var sb strings.Builder
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(textContent(child))
	}
	return sb.String()
}
