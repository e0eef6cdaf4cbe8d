package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/retry"
)

// DefaultUserAgent is a desktop browser string; several sources reject
// clients that do not look like one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type FetcherOptions struct {
	Timeout      time.Duration
	Policy       retry.Policy
	HostInterval time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
	Logger       *slog.Logger
	// OnRetry is told about every retried attempt (metrics hook).
	OnRetry func(url string, attempt int, err error)
}

// Fetcher retrieves listing and detail pages with per-call timeouts,
// retries for transient failures and per-host spacing.
type Fetcher struct {
	client    *http.Client
	policy    retry.Policy
	hosts     *ratelimit.HostLimiter
	timeout   time.Duration
	userAgent string
	maxBody   int64
	logger    *slog.Logger
	onRetry   func(url string, attempt int, err error)
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	policy := opts.Policy
	policy.Retryable = isRetryableFetch

	return &Fetcher{
		client:    opts.Client,
		policy:    policy,
		hosts:     ratelimit.NewHostLimiter(opts.HostInterval),
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		logger:    opts.Logger.With("component", "fetcher"),
		onRetry:   opts.OnRetry,
	}
}

// Get fetches url with the configured timeout and retry budget.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return f.GetWith(ctx, url, f.timeout, f.policy.MaxRetries)
}

// GetWith fetches url with an explicit per-attempt timeout and retry count.
// HTML responses are transcoded to UTF-8; feeds are returned as received so
// the feed parser can honor the XML declaration.
func (f *Fetcher) GetWith(ctx context.Context, url string, timeout time.Duration, maxRetries int) ([]byte, error) {
	policy := f.policy
	policy.MaxRetries = maxRetries
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		f.logger.Debug("retrying fetch", "url", url, "attempt", attempt, "delay", delay, "error", err)
		if f.onRetry != nil {
			f.onRetry(url, attempt, err)
		}
	}

	var body []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := f.hosts.Wait(ctx, url); err != nil {
			return &news.FetchError{URL: url, Permanent: true, Err: err}
		}
		b, err := f.fetchOnce(ctx, url, timeout)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &news.FetchError{URL: url, Permanent: true, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/rss+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &news.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &news.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Permanent:  isPermanentStatus(resp.StatusCode),
			Wait:       retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var reader io.Reader = io.LimitReader(resp.Body, f.maxBody)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "html") {
		if r, err := charset.NewReader(reader, contentType); err == nil {
			reader = r
		}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &news.FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// isPermanentStatus treats 4xx as permanent except request timeout and rate limiting.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func isRetryableFetch(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *news.FetchError
	if errors.As(err, &fe) {
		return !fe.Permanent
	}
	return true
}
