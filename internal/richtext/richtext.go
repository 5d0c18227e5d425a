// Package richtext holds the HTML policies shared by templates, generated
// section content and knowledge-base ingestion.
package richtext

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

var (
	contentPolicy  = newContentPolicy()
	templatePolicy = newTemplatePolicy()
	strictPolicy   = bluemonday.StrictPolicy()
	whitespace     = regexp.MustCompile(`\s+`)
)

func newContentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Globally()
	return policy
}

// Template bodies keep marker attributes and comments so both marker formats
// survive sanitization.
func newTemplatePolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class", "id", "title", "data-field-id", "data-title", "data-help").Globally()
	policy.AllowAttrs("style").OnElements("span", "p", "div", "td", "th")
	policy.AllowComments()
	return policy
}

// SanitizeContent cleans authored or generated section HTML.
func SanitizeContent(raw string) string {
	return contentPolicy.Sanitize(raw)
}

// SanitizeTemplate cleans a template body before it is stored.
func SanitizeTemplate(raw string) string {
	return templatePolicy.Sanitize(raw)
}

// PlainText strips all markup, decodes entities and collapses whitespace.
func PlainText(raw string) string {
	text := html.UnescapeString(strictPolicy.Sanitize(raw))
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// ToMarkdown converts HTML into markdown for prompts and context files.
func ToMarkdown(raw string) (string, error) {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(contentPolicy.Sanitize(raw))
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
