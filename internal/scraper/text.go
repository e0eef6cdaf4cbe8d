package scraper

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// StripTags removes all markup and collapses whitespace.
func StripTags(raw string) string {
	return normalizeWhitespace(html.UnescapeString(strictPolicy.Sanitize(raw)))
}

// CleanBlurb turns a feed description or listing teaser into one line of
// plain text, capped at maxChars runes on a word boundary with "..." appended.
func CleanBlurb(raw string, maxChars int) string {
	text := StripTags(raw)
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxChars])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "..."
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
