// ABOUTME: Markdown-to-HTML rendering for agent replies
// ABOUTME: Browser clients get ready-to-insert HTML next to the plain text

package gateway

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// markdownRenderer converts agent reply markdown to HTML for the
// agent-message event. A render failure yields an empty string; clients fall
// back to the plain text.
type markdownRenderer struct{}

func newMarkdownRenderer() *markdownRenderer { return &markdownRenderer{} }

func (r *markdownRenderer) Render(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
