package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/rss"
	"github.com/deusflow/newsdigest/internal/scraper"
)

// Fetcher is the network side of an adapter.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// ListingExtractor turns a fetched listing document into article stubs.
type ListingExtractor interface {
	Extract(raw []byte, desc news.SourceDescriptor) ([]news.Article, error)
}

// ExtractorFunc adapts a function to ListingExtractor.
type ExtractorFunc func(raw []byte, desc news.SourceDescriptor) ([]news.Article, error)

func (f ExtractorFunc) Extract(raw []byte, desc news.SourceDescriptor) ([]news.Article, error) {
	return f(raw, desc)
}

// Registry maps a source kind to its listing extractor.
type Registry struct {
	mu         sync.RWMutex
	extractors map[news.SourceKind]ListingExtractor
}

// NewRegistry returns a registry with the rss and html extractors installed.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[news.SourceKind]ListingExtractor)}
	r.Register(news.KindRSS, ExtractorFunc(func(raw []byte, desc news.SourceDescriptor) ([]news.Article, error) {
		return rss.ParseListing(raw, desc.Name)
	}))
	r.Register(news.KindHTML, ExtractorFunc(func(raw []byte, desc news.SourceDescriptor) ([]news.Article, error) {
		base, err := url.Parse(desc.URL)
		if err != nil {
			return nil, &news.ParseError{Source: desc.Name, Reason: "invalid listing url", Err: err}
		}
		return scraper.ExtractListing(raw, desc.Rules, base)
	}))
	return r
}

func (r *Registry) Register(kind news.SourceKind, ex ListingExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[kind] = ex
}

func (r *Registry) Lookup(kind news.SourceKind) (ListingExtractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.extractors[kind]
	return ex, ok
}

// Adapter lists the articles of one configured source.
type Adapter struct {
	fetcher     Fetcher
	registry    *Registry
	maxArticles int
	logger      *slog.Logger
}

func NewAdapter(fetcher Fetcher, registry *Registry, maxArticles int, logger *slog.Logger) *Adapter {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		fetcher:     fetcher,
		registry:    registry,
		maxArticles: maxArticles,
		logger:      logger.With("component", "source"),
	}
}

// ListArticles fetches and parses desc's listing page. It returns a
// *news.FetchError when the page cannot be retrieved and a *news.ParseError
// when it loads but the source's rules no longer match.
func (a *Adapter) ListArticles(ctx context.Context, desc news.SourceDescriptor) ([]news.Article, error) {
	extractor, ok := a.registry.Lookup(desc.Kind)
	if !ok {
		return nil, &news.ParseError{Source: desc.Name, Reason: fmt.Sprintf("no extractor for kind %q", desc.Kind)}
	}

	raw, err := a.fetcher.Get(ctx, desc.URL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", desc.Name, err)
	}

	articles, err := extractor.Extract(raw, desc)
	if err != nil {
		var pe *news.ParseError
		if errors.As(err, &pe) {
			pe.Source = desc.Name
		}
		return nil, err
	}

	if a.maxArticles > 0 && len(articles) > a.maxArticles {
		articles = articles[:a.maxArticles]
	}
	for i := range articles {
		articles[i].Source = desc.Name
		articles[i].Priority = desc.Priority
		articles[i].Position = i
	}

	a.logger.Debug("listed source", "source", desc.Name, "articles", len(articles))
	return articles, nil
}
