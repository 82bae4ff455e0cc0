// Package security holds the description sanitizer and the SSRF-guarded HTTP client.
package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	breakTags  = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li)\s*/?\s*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Sanitizer turns HTML fragments from sources and EPUBs into plain text.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a Sanitizer that strips every element.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text strips markup from s and decodes entities. Line-breaking tags become newlines.
// The result is plain text and must still be escaped before it goes into HTML.
func (s *Sanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	withBreaks := breakTags.ReplaceAllString(raw, "\n$0")
	text := html.UnescapeString(s.policy.Sanitize(withBreaks))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
