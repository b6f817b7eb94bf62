// Package filter cleans message text. Outgoing messages are stored as
// plain text with any HTML stripped; the web shell renders stored text
// as sanitized markdown.
package filter

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

var (
	strict = bluemonday.StrictPolicy()
	ugc    = bluemonday.UGCPolicy()
)

// Sanitize strips all HTML from outgoing message text and trims
// surrounding whitespace. Applied on the send path so markup can
// never reach the store.
func Sanitize(text string) string {
	return strings.TrimSpace(strict.Sanitize(text))
}

// RenderMarkdown renders stored message text as HTML for the web
// client, with the result sanitized to user-generated-content rules.
func RenderMarkdown(text string) string {
	html := blackfriday.Run([]byte(text))
	return strings.TrimSpace(string(ugc.SanitizeBytes(html)))
}
