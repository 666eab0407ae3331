package recipe

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// RenderHTML converts recipe Markdown to HTML for preview and export.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
