// Package htmlsanitize strips markup from untrusted text such as display
// names returned by OAuth providers.
package htmlsanitize

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every element; script and style contents are dropped.
var strict = bluemonday.StrictPolicy()

// PlainText returns s with all HTML removed. Entities produced by the
// sanitizer are decoded again so names like "O'Neil" survive unchanged.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	return html.UnescapeString(strict.Sanitize(s))
}
