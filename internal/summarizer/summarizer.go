package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/retry"
)

const (
	DefaultMaxInputChars = 12000
	DefaultMaxTokens     = 1000
)

// DefaultSystemPrompt keeps summaries factual and free of preamble.
const DefaultSystemPrompt = "You summarize news articles for a reader who wants the facts quickly. " +
	"Answer with the summary only, without a heading or introduction."

// Input is one article to summarize.
type Input struct {
	Title  string
	Source string
	Body   string
}

// Request is what a backend sends to its model. Body is the already
// truncated article text that Prompt embeds.
type Request struct {
	System    string
	Prompt    string
	Body      string
	MaxTokens int
}

// Backend is one summarization provider. Complete returns the raw model text
// or a *news.SummarizationError describing why it could not.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

type Options struct {
	MaxInputChars int
	MaxTokens     int
	SystemPrompt  string
	Policy        retry.Policy
	Limiter       *ratelimit.Limiter
	Logger        *slog.Logger
	// Timeout bounds each backend call; zero leaves only the caller's deadline.
	Timeout time.Duration
	// OnAttempt is called after every backend call (metrics hook).
	OnAttempt func(err error)
}

// Client wraps a Backend with truncation, pacing, retries and failure classification.
type Client struct {
	backend   Backend
	maxInput  int
	maxTokens int
	system    string
	policy    retry.Policy
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	timeout   time.Duration
	onAttempt func(err error)
}

func New(backend Backend, opts Options) *Client {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	policy := opts.Policy
	policy.Retryable = isTransient

	return &Client{
		backend:   backend,
		maxInput:  opts.MaxInputChars,
		maxTokens: opts.MaxTokens,
		system:    opts.SystemPrompt,
		policy:    policy,
		limiter:   opts.Limiter,
		logger:    opts.Logger.With("component", "summarizer", "backend", backend.Name()),
		timeout:   opts.Timeout,
		onAttempt: opts.OnAttempt,
	}
}

// Summarize returns the model's summary of in, whitespace-trimmed. Failures
// are *news.SummarizationError values; transient ones have already been
// retried. A spent request budget is reported with KindBudget.
func (c *Client) Summarize(ctx context.Context, in Input) (string, error) {
	body := Truncate(strings.TrimSpace(in.Body), c.maxInput)
	req := Request{
		System:    c.system,
		Prompt:    buildPrompt(in.Title, in.Source, body),
		Body:      body,
		MaxTokens: c.maxTokens,
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Info("summarization retry", "title", in.Title, "attempt", attempt, "delay", delay, "error", err)
	}

	var summary string
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx); err != nil {
			if errors.Is(err, ratelimit.ErrBudgetExhausted) {
				return &news.SummarizationError{Kind: news.KindBudget, Err: err}
			}
			return err
		}

		text, err := c.complete(ctx, req)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				err = &news.SummarizationError{Kind: news.KindEmpty, Transient: true, Err: errors.New("model returned no text")}
			}
		} else {
			err = classify(err)
		}
		if c.onAttempt != nil {
			c.onAttempt(err)
		}
		if err != nil {
			return err
		}
		summary = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.backend.Complete(ctx, req)
}

// IsBudgetExhausted reports whether err means the per-run request budget is spent.
func IsBudgetExhausted(err error) bool {
	var se *news.SummarizationError
	return errors.As(err, &se) && se.Kind == news.KindBudget
}

func buildPrompt(title, source, body string) string {
	if body == "" {
		body = "No content available."
	}
	return fmt.Sprintf(`Please summarize the following news article in 3-4 concise paragraphs. Maintain the factual accuracy and important details.

Title: %s
Source: %s

Article Content:
%s

Summary:`, title, source, body)
}

// isTransient trusts the classification first so a per-call timeout is
// retried; the retry loop itself stops once the caller's context is done.
func isTransient(err error) bool {
	var se *news.SummarizationError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// classify makes sure a backend error is a *news.SummarizationError.
// Unknown network failures are transient, anything else is not.
func classify(err error) error {
	var se *news.SummarizationError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &news.SummarizationError{Kind: news.KindUnavailable, Transient: true, Err: err}
	}
	return &news.SummarizationError{Kind: news.KindUnclassified, Err: err}
}

// fromStatus maps an HTTP status to a classified error.
func fromStatus(code int, wait time.Duration, err error) *news.SummarizationError {
	se := &news.SummarizationError{StatusCode: code, Wait: wait, Err: err}
	switch {
	case code == 429:
		se.Kind, se.Transient = news.KindRateLimited, true
	case code == 529 || code == 503 || code == 502 || code == 504:
		se.Kind, se.Transient = news.KindUnavailable, true
	case code == 408 || code >= 500:
		se.Kind, se.Transient = news.KindUnavailable, true
	case code == 401 || code == 403:
		se.Kind = news.KindAuth
	case code == 400 || code == 422:
		se.Kind = news.KindPolicy
	default:
		se.Kind = news.KindBadRequest
	}
	return se
}
