package report

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

var md = goldmark.New()

// RenderMarkdown converts a model answer to HTML for browser clients.
func RenderMarkdown(answer string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(answer), &buf); err != nil {
		return "", fmt.Errorf("render answer: %w", err)
	}
	return buf.String(), nil
}
