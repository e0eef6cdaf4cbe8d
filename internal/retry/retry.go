package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy is the shared retry/backoff policy. Attempts = MaxRetries + 1.
// Delays grow by Multiplier from BaseDelay, are capped at MaxDelay and then
// jittered by ±Jitter/2 of their value.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64

	// Retryable decides whether an error is worth another attempt.
	// A nil classifier retries everything.
	Retryable func(error) bool

	// Sleep waits between attempts; tests replace it to observe delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default mirrors the values used by the fetcher: 3 retries from 500ms, doubling, capped at 8s.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// RetryAfterHint is implemented by errors carrying a server-provided wait.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. Non-retryable errors are returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		var hint RetryAfterHint
		if errors.As(lastErr, &hint) {
			if ra := hint.RetryAfter(); ra > delay {
				delay = ra
				if p.MaxDelay > 0 && delay > p.MaxDelay {
					delay = p.MaxDelay
				}
			}
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// Delay returns the jittered backoff before attempt+1.
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay *= 1 + (rand.Float64()-0.5)*p.Jitter
	}
	return time.Duration(delay)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
