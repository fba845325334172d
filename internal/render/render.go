// Package render converts coach replies from markdown to the HTML
// fragment carried in message render hints.
package render

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders GitHub-flavored markdown. Raw HTML in the input is
// omitted from the output.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// HTML renders markdown text as an HTML fragment.
func HTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
