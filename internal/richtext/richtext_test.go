package richtext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeContentDropsScripts(t *testing.T) {
	out := SanitizeContent(`<p onclick="x()">Scope</p><script>alert(1)</script>`)
	assert.Equal(t, "<p>Scope</p>", out)
}

func TestSanitizeTemplateKeepsMarkers(t *testing.T) {
	raw := `<div class="metadata-field" data-field-id="scope" data-title="Scope" data-help="Describe"></div><!-- START:a:Legacy --><p>x</p><!-- END -->`
	out := SanitizeTemplate(raw)
	for _, want := range []string{`data-field-id="scope"`, `data-help="Describe"`, `class="metadata-field"`, "<!-- START:a:Legacy -->", "<!-- END -->"} {
		assert.Contains(t, out, want)
	}
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Fill in the goals & scope", PlainText("<p>Fill in\n the <b>goals</b> &amp; scope</p>"))
}

func TestToMarkdown(t *testing.T) {
	out, err := ToMarkdown("<h2>Scope</h2><ul><li>One</li><li>Two</li></ul>")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "## Scope"), out)
	assert.Contains(t, out, "- One")
}
