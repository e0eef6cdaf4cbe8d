package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned once the per-run request budget is used up.
var ErrBudgetExhausted = errors.New("summarization request budget exhausted")

// ErrDeadline means the next token would only arrive after the caller's
// deadline. It wraps context.DeadlineExceeded.
var ErrDeadline = fmt.Errorf("rate limit wait would outlast deadline: %w", context.DeadlineExceeded)

// Limiter paces requests to the summarization API and enforces a per-run
// request budget.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	budget  int // 0 = unlimited
	used    int
	logger  *slog.Logger
}

// New builds a limiter allowing perMinute requests with the given burst.
// perMinute <= 0 disables pacing; budget <= 0 disables the budget.
func New(perMinute, burst, budget int, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
	return &Limiter{limiter: lim, budget: budget, logger: logger}
}

// Acquire consumes one request from the budget and waits for a pacing token.
// A nil Limiter admits everything.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.budget > 0 && l.used >= l.budget {
		l.mu.Unlock()
		l.logger.Warn("summarization budget reached", "used", l.budget, "limit", l.budget)
		return ErrBudgetExhausted
	}
	l.used++
	used := l.used
	l.mu.Unlock()

	if err := l.limiter.Wait(ctx); err != nil {
		l.mu.Lock()
		l.used--
		l.mu.Unlock()
		return fmt.Errorf("wait for rate limiter: %w", waitErr(ctx, err))
	}

	l.logger.Debug("summarization request admitted", "used", used, "limit", l.budget)
	return nil
}

// Reset clears the budget counter; the orchestrator calls it at the start of a run.
func (l *Limiter) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used = 0
}

// Used reports how many requests were admitted since the last Reset.
func (l *Limiter) Used() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// waitErr normalizes a rate.Limiter.Wait failure. Wait refuses early, before
// ctx is done, when the reservation would run past the deadline.
func waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return ErrDeadline
	}
	return err
}
