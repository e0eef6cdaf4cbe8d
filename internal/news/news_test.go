package news

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"permanent fetch", &FetchError{URL: "u", StatusCode: 404, Permanent: true}, true},
		{"transient fetch", &FetchError{URL: "u", StatusCode: 503}, false},
		{"wrapped fetch", fmt.Errorf("list x: %w", &FetchError{Permanent: true}), true},
		{"parse", &ParseError{Source: "s", Reason: "no items"}, true},
		{"policy", &SummarizationError{Kind: KindPolicy}, true},
		{"rate limited", &SummarizationError{Kind: KindRateLimited, Transient: true}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "fetch https://x: permanent error: HTTP 404",
		(&FetchError{URL: "https://x", StatusCode: 404, Permanent: true}).Error())
	assert.Equal(t, "summarize: transient rate_limited (HTTP 429): slow",
		(&SummarizationError{Kind: KindRateLimited, Transient: true, StatusCode: 429, Err: errors.New("slow")}).Error())
	assert.Equal(t, "cache write /tmp/c.json: disk full",
		(&CacheError{Op: "write", Path: "/tmp/c.json", Err: errors.New("disk full")}).Error())
	assert.Equal(t, 3*time.Second, (&FetchError{Wait: 3 * time.Second}).RetryAfter())
}

func TestFormatSummary(t *testing.T) {
	published := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)
	generated := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	a := Article{
		Title:       "Budget passes",
		Source:      "CBC News",
		URL:         "https://cbc.ca/news/budget",
		PublishedAt: &published,
		Summary:     "The budget passed.",
		Status:      SummaryDone,
	}

	out := FormatSummary(a, generated)
	assert.True(t, strings.HasPrefix(out, "Title: Budget passes\nSource: CBC News\nDate: 2026-03-04 09:30:00\nURL: https://cbc.ca/news/budget\n"))
	assert.Contains(t, out, "SUMMARY:\n\nThe budget passed.\n")
	assert.Contains(t, out, "Summarized on 2026-03-05 10:00:00")

	a.Status = SummaryFailed
	assert.Contains(t, FormatSummary(a, generated), SummaryPlaceholder)
}

func TestSummaryFileName(t *testing.T) {
	a := Article{Title: "Budget: what's in it for   you?", Key: "abcdef0123456789"}
	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "20260305_budget_whats_in_it_for_you_abcdef01.txt", SummaryFileName(a, day))

	long := Article{Title: strings.Repeat("word ", 30), Key: "12"}
	name := SummaryFileName(long, day)
	assert.LessOrEqual(t, len(name), len("20260305_")+50+len("_12.txt"))
}
