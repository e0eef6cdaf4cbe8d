package summarizer

import (
	"strings"
	"unicode"
)

// Truncate shortens text to at most limit runes. It cuts at the paragraph or
// sentence boundary closest to the limit, falls back to the last whitespace,
// and only splits a word when the text has no whitespace before the limit.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	// endsAt reports whether position i (exclusive end) sits on whitespace or
	// the end of the original text.
	endsAt := func(i int) bool {
		return i >= len(runes) || unicode.IsSpace(runes[i])
	}

	boundary := 0
	for i := limit; i > 0; i-- {
		r := runes[i-1]
		if (r == '.' || r == '!' || r == '?' || r == '"' && i >= 2 && isTerminal(runes[i-2])) && endsAt(i) {
			boundary = i
			break
		}
		if r == '\n' && i >= 2 && runes[i-2] == '\n' {
			boundary = i - 2
			break
		}
	}
	if boundary > 0 {
		return strings.TrimRightFunc(string(runes[:boundary]), unicode.IsSpace)
	}

	if endsAt(limit) {
		return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace)
	}
	for i := limit - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return strings.TrimRightFunc(string(runes[:i]), unicode.IsSpace)
		}
	}
	return string(runes[:limit])
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
