package httpapi

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderMarkdown renders ticket content to HTML for clients that want a
// preview.
func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return buf.String()
}
