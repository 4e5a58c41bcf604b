// Package extract turns fetched HTML into the plain text handed to the language model.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxLength is the rune budget applied when Options.MaxLength is zero.
const DefaultMaxLength = 9000

const ellipsis = "..."

// Options tunes Text.
type Options struct {
	// MaxLength caps the result in runes. Zero means DefaultMaxLength; negative disables truncation.
	MaxLength int
}

var strippedSelectors = "script, style, noscript, template, svg, iframe"

// Text returns the visible text of an HTML document with whitespace collapsed.
func Text(html []byte, opts Options) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strippedSelectors).Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")

	limit := opts.MaxLength
	if limit == 0 {
		limit = DefaultMaxLength
	}
	return Truncate(text, limit), nil
}

// Truncate cuts s to at most limit runes and marks the cut with "...". A negative limit returns s unchanged.
func Truncate(s string, limit int) string {
	if limit < 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + ellipsis
}
