package news

import (
	"errors"
	"fmt"
	"time"
)

// FetchError reports a failed network retrieval. Permanent errors (4xx other
// than 408/429) are never retried.
type FetchError struct {
	URL        string
	StatusCode int
	Permanent  bool
	// Wait is the server's Retry-After hint, zero when absent.
	Wait       time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s error: HTTP %d", e.URL, kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s error: %v", e.URL, kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) RetryAfter() time.Duration { return e.Wait }

// ParseError means a page loaded but the source's extraction rules no longer match.
type ParseError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SummarizationKind classifies summarization failures.
type SummarizationKind string

const (
	KindRateLimited  SummarizationKind = "rate_limited"
	KindUnavailable  SummarizationKind = "unavailable"
	KindAuth         SummarizationKind = "auth"
	KindPolicy       SummarizationKind = "policy"
	KindBadRequest   SummarizationKind = "bad_request"
	KindEmpty        SummarizationKind = "empty_response"
	KindBudget       SummarizationKind = "budget_exhausted"
	KindUnclassified SummarizationKind = "unclassified"
)

// SummarizationError is returned by the summarization client.
type SummarizationError struct {
	Kind       SummarizationKind
	Transient  bool
	StatusCode int
	Wait       time.Duration
	Err        error
}

func (e *SummarizationError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("summarize: %s %s (HTTP %d): %v", kind, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("summarize: %s %s: %v", kind, e.Kind, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

func (e *SummarizationError) RetryAfter() time.Duration { return e.Wait }

// CacheError reports cache store I/O or corruption problems.
type CacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a fetch or summarization error that a
// retry within the same run cannot fix.
func IsPermanent(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Permanent
	}
	var se *SummarizationError
	if errors.As(err, &se) {
		return !se.Transient
	}
	var pe *ParseError
	return errors.As(err, &pe)
}
