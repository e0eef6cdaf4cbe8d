package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/deusflow/newsdigest/internal/cache"
	"github.com/deusflow/newsdigest/internal/config"
	"github.com/deusflow/newsdigest/internal/credentials"
	"github.com/deusflow/newsdigest/internal/logger"
	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/pipeline"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/retry"
	"github.com/deusflow/newsdigest/internal/scraper"
	"github.com/deusflow/newsdigest/internal/source"
	"github.com/deusflow/newsdigest/internal/summarizer"
)

type Options struct {
	// APIKey skips the credential lookup when set.
	APIKey string
	// Backend replaces the configured summarization provider.
	Backend    summarizer.Backend
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// App is the wired pipeline for one process.
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	cache   *cache.Cache
	closers []io.Closer
}

// New wires config into a ready orchestrator. A missing API key returns an
// error wrapping credentials.ErrMissing; a cache store that cannot be opened
// is fatal unless cache.memory_fallback is set.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New(cfg.Log.Level, os.Stderr)
	}
	m := metrics.New()

	backend := opts.Backend
	var closers []io.Closer
	if backend == nil {
		key := opts.APIKey
		if key == "" {
			var err error
			key, err = credentials.Lookup(cfg.Summarizer.Provider, cfg.Summarizer.APIKeyEnv)
			if err != nil {
				return nil, err
			}
		}
		b, err := newBackend(ctx, cfg.Summarizer, key)
		if err != nil {
			return nil, err
		}
		if c, ok := b.(io.Closer); ok {
			closers = append(closers, c)
		}
		backend = b
	}

	cleanup := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	store, err := openStore(cfg.Cache, log)
	if err != nil {
		cleanup()
		return nil, err
	}
	c, err := cache.New(ctx, store, cache.Options{
		RetryFailedNextRun: cfg.Cache.RetryFailedNextRun,
		Logger:             log,
	})
	if err != nil {
		_ = store.Close()
		cleanup()
		return nil, err
	}

	fetcher := scraper.NewFetcher(scraper.FetcherOptions{
		Timeout: cfg.Fetch.Timeout,
		Policy: retry.Policy{
			MaxRetries: cfg.Fetch.MaxRetries,
			BaseDelay:  cfg.Fetch.BaseDelay,
			MaxDelay:   cfg.Fetch.MaxDelay,
			Multiplier: 2,
			Jitter:     0.2,
		},
		HostInterval: cfg.Fetch.HostInterval,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Client:       opts.HTTPClient,
		Logger:       log,
		OnRetry: func(string, int, error) {
			m.FetchRetries.Inc()
		},
	})
	adapter := source.NewAdapter(fetcher, source.NewRegistry(), cfg.Pipeline.MaxArticlesPerSource, log)

	limiter := ratelimit.New(cfg.Summarizer.RequestsPerMin, cfg.Summarizer.MaxConcurrent, cfg.Summarizer.MaxRequestsRun, log)
	client := summarizer.New(backend, summarizer.Options{
		MaxInputChars: cfg.Summarizer.MaxInputChars,
		MaxTokens:     cfg.Summarizer.MaxTokens,
		SystemPrompt:  cfg.Summarizer.SystemPrompt,
		Policy: retry.Policy{
			MaxRetries: cfg.Summarizer.MaxRetries,
			BaseDelay:  cfg.Summarizer.BaseDelay,
			MaxDelay:   cfg.Summarizer.MaxDelay,
			Multiplier: 2,
			Jitter:     0.2,
		},
		Limiter: limiter,
		Timeout: cfg.Summarizer.Timeout,
		Logger:  log,
	})

	orch, err := pipeline.New(adapter, fetcher, c, client, pipeline.Options{
		Sources:                cfg.Descriptors(),
		Workers:                cfg.Pipeline.Workers,
		SourceConcurrency:      cfg.Pipeline.SourceConcurrency,
		MaxConcurrentSummaries: cfg.Summarizer.MaxConcurrent,
		RunTimeout:             cfg.Pipeline.RunTimeout,
		SummarizeOnList:        cfg.Pipeline.SummarizeOnList,
		MinBodyChars:           cfg.Extract.MinBodyChars,
		RecentStubs:            cfg.Pipeline.RecentStubs,
		Limiter:                limiter,
		Metrics:                m,
		Logger:                 log,
	})
	if err != nil {
		_ = c.Close()
		cleanup()
		return nil, err
	}

	log.Debug("app ready",
		"provider", backend.Name(),
		"cache", cfg.Cache.Backend,
		"sources", len(cfg.Sources),
	)
	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Metrics:      m,
		Logger:       log,
		cache:        c,
		closers:      closers,
	}, nil
}

// Close releases the cache store and the summarization backend.
func (a *App) Close() error {
	errs := []error{a.cache.Close()}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func newBackend(ctx context.Context, cfg config.SummarizerConfig, key string) (summarizer.Backend, error) {
	switch cfg.Provider {
	case "gemini":
		return summarizer.NewGeminiBackend(ctx, summarizer.GeminiConfig{
			APIKey:   key,
			Model:    cfg.Model,
			Endpoint: cfg.Endpoint,
		})
	case "openai":
		return summarizer.NewOpenAIBackend(summarizer.OpenAIConfig{
			APIKey:  key,
			Model:   cfg.Model,
			BaseURL: cfg.Endpoint,
		}), nil
	case "anthropic":
		return summarizer.NewAnthropicBackend(summarizer.AnthropicConfig{
			APIKey:   key,
			Model:    cfg.Model,
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider %q", cfg.Provider)
	}
}
