package news

import (
	"fmt"
	"strings"
	"time"
)

const summaryRule = "=================================================="

// FormatSummary renders an article with its summary in the plain-text layout
// used for exported summary files.
func FormatSummary(a Article, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString("Title: " + a.Title + "\n")
	b.WriteString("Source: " + a.Source + "\n")
	date := generatedAt
	if a.PublishedAt != nil {
		date = *a.PublishedAt
	}
	b.WriteString("Date: " + date.Format("2006-01-02 15:04:05") + "\n")
	b.WriteString("URL: " + a.URL + "\n")
	b.WriteString("\n" + summaryRule + "\n\n")
	b.WriteString("SUMMARY:\n\n")
	if a.HasSummary() {
		b.WriteString(a.Summary)
	} else {
		b.WriteString(SummaryPlaceholder)
	}
	b.WriteString("\n\n" + summaryRule + "\n")
	b.WriteString(fmt.Sprintf("\nSummarized on %s\n", generatedAt.Format("2006-01-02 15:04:05")))

	return b.String()
}

// SummaryFileName builds a filesystem-friendly name: date, slugged title and
// the first 8 characters of the article key.
func SummaryFileName(a Article, day time.Time) string {
	var slug strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(a.Title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			slug.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '\t' || r == '_':
			if !lastUnderscore && slug.Len() > 0 {
				slug.WriteByte('_')
				lastUnderscore = true
			}
		}
		if slug.Len() >= 50 {
			break
		}
	}
	title := strings.Trim(slug.String(), "_")

	key := a.Key
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("%s_%s_%s.txt", day.Format("20060102"), title, key)
}
