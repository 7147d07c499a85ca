package util

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainPolicy = bluemonday.StrictPolicy()
	richPolicy  = bluemonday.UGCPolicy()
)

const maxPlainTextPasses = 8

// PlainText strips all markup from titles and names. Entities are decoded
// and the result sanitized again until it stops changing, so "Q&A" survives
// while "&lt;img onerror=...&gt;" cannot come back as a live tag.
func PlainText(value string) string {
	current := value
	for i := 0; i < maxPlainTextPasses; i++ {
		next := html.UnescapeString(plainPolicy.Sanitize(current))
		if next == current {
			return strings.TrimSpace(next)
		}
		current = next
	}
	// Still changing: keep the escaped form rather than decode it.
	return strings.TrimSpace(plainPolicy.Sanitize(current))
}

// RichText keeps user-generated-content safe markup (links, emphasis, lists).
func RichText(value string) string {
	return strings.TrimSpace(richPolicy.Sanitize(value))
}
