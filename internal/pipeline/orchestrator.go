package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/deusflow/newsdigest/internal/cache"
	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/ratelimit"
	"github.com/deusflow/newsdigest/internal/scraper"
	"github.com/deusflow/newsdigest/internal/summarizer"
)

// ErrUnknownCategory is returned by Run for a category with no sources.
var ErrUnknownCategory = errors.New("unknown category")

// State is the phase of a run, logged as it advances.
type State string

const (
	StateListing     State = "listing"
	StateReconciling State = "reconciling"
	StateSummarizing State = "summarizing"
	StateReady       State = "ready"
)

// Lister lists the article stubs of one source.
type Lister interface {
	ListArticles(ctx context.Context, desc news.SourceDescriptor) ([]news.Article, error)
}

// Fetcher downloads article pages.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Summarizer produces a summary for one article.
type Summarizer interface {
	Summarize(ctx context.Context, in summarizer.Input) (string, error)
}

type Options struct {
	Sources []news.SourceDescriptor

	Workers           int
	SourceConcurrency int
	// MaxConcurrentSummaries bounds in-flight summarization calls across workers.
	MaxConcurrentSummaries int
	RunTimeout             time.Duration
	// SummarizeOnList summarizes every cache miss during Run. When false,
	// summaries are only produced by OpenArticle.
	SummarizeOnList bool
	MinBodyChars    int
	RecentStubs     int

	// Limiter is reset at the start of every Run so the request budget is per run.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator runs the list, reconcile, summarize pipeline for a category.
type Orchestrator struct {
	lister     Lister
	fetcher    Fetcher
	cache      *cache.Cache
	summarizer Summarizer

	sources         []news.SourceDescriptor
	byName          map[string]news.SourceDescriptor
	workers         int
	sourceLimit     int
	runTimeout      time.Duration
	summarizeOnList bool
	minBodyChars    int

	calls   *semaphore.Weighted
	stubs   *lru.Cache[string, news.Article]
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(lister Lister, fetcher Fetcher, c *cache.Cache, s Summarizer, opts Options) (*Orchestrator, error) {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.SourceConcurrency <= 0 {
		opts.SourceConcurrency = 3
	}
	if opts.MaxConcurrentSummaries <= 0 {
		opts.MaxConcurrentSummaries = 2
	}
	if opts.MinBodyChars <= 0 {
		opts.MinBodyChars = scraper.MinBodyChars
	}
	if opts.RecentStubs <= 0 {
		opts.RecentStubs = 512
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	stubs, err := lru.New[string, news.Article](opts.RecentStubs)
	if err != nil {
		return nil, fmt.Errorf("create stub cache: %w", err)
	}

	sources := make([]news.SourceDescriptor, len(opts.Sources))
	copy(sources, opts.Sources)
	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].Category != sources[j].Category {
			return sources[i].Category < sources[j].Category
		}
		return sources[i].Priority < sources[j].Priority
	})
	byName := make(map[string]news.SourceDescriptor, len(sources))
	for _, d := range sources {
		byName[d.Name] = d
	}

	return &Orchestrator{
		lister:          lister,
		fetcher:         fetcher,
		cache:           c,
		summarizer:      s,
		sources:         sources,
		byName:          byName,
		workers:         opts.Workers,
		sourceLimit:     opts.SourceConcurrency,
		runTimeout:      opts.RunTimeout,
		summarizeOnList: opts.SummarizeOnList,
		minBodyChars:    opts.MinBodyChars,
		calls:           semaphore.NewWeighted(int64(opts.MaxConcurrentSummaries)),
		stubs:           stubs,
		limiter:         opts.Limiter,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("component", "pipeline"),
	}, nil
}

// Sources returns the sources of category in priority order.
func (o *Orchestrator) Sources(category news.Category) []news.SourceDescriptor {
	var out []news.SourceDescriptor
	for _, d := range o.sources {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Run lists every source of category, folds in cached summaries and
// summarizes the misses. Source and article failures never fail the run;
// they are reported as notices and degraded items. The result is ordered by
// source priority, then listing position, whatever order tasks finish in.
func (o *Orchestrator) Run(ctx context.Context, category news.Category) (news.CategoryResult, error) {
	sources := o.Sources(category)
	if len(sources) == 0 {
		return news.CategoryResult{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	runCtx := ctx
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}
	o.limiter.Reset()

	result := news.CategoryResult{Category: category}
	log := o.logger.With("category", category)

	log.Info("pipeline state", "state", StateListing, "sources", len(sources))
	articles, notices := o.list(runCtx, sources)
	result.Notices = append(result.Notices, notices...)
	result.Stats.SourceFailures = len(notices)
	result.Stats.Listed = len(articles)

	log.Info("pipeline state", "state", StateReconciling, "articles", len(articles))
	var misses []int
	for i := range articles {
		if o.reconcile(&articles[i]) {
			result.Stats.CacheHits++
			continue
		}
		misses = append(misses, i)
	}
	o.countLookups(result.Stats.CacheHits, len(misses))

	if o.summarizeOnList && len(misses) > 0 {
		log.Info("pipeline state", "state", StateSummarizing, "misses", len(misses))
		itemNotices := make([]*news.Notice, len(articles))

		var g errgroup.Group
		g.SetLimit(o.workers)
		for _, i := range misses {
			g.Go(func() error {
				articles[i], itemNotices[i] = o.process(runCtx, articles[i])
				return nil
			})
		}
		_ = g.Wait()

		for _, i := range misses {
			if n := itemNotices[i]; n != nil {
				result.Notices = append(result.Notices, *n)
			}
			if articles[i].HasSummary() {
				result.Stats.Summarized++
			}
		}
	}

	for _, a := range articles {
		switch a.Status {
		case news.SummaryFailed:
			result.Stats.Failed++
		case news.SummaryUnavailable:
			result.Stats.Abandoned++
		}
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		result.Notices = append(result.Notices, news.Notice{
			Message: fmt.Sprintf("run deadline of %s reached, %d summaries left for the next run", o.runTimeout, result.Stats.Abandoned),
		})
	}

	result.Articles = articles
	o.metrics.SetLastRun(time.Now())
	log.Info("pipeline state", "state", StateReady,
		"listed", result.Stats.Listed,
		"cache_hits", result.Stats.CacheHits,
		"summarized", result.Stats.Summarized,
		"failed", result.Stats.Failed,
		"abandoned", result.Stats.Abandoned,
		"source_failures", result.Stats.SourceFailures,
	)
	return result, ctx.Err()
}

// OpenArticle returns the article at rawURL with body and summary. A done
// cache entry is served without any network call; otherwise the article is
// fetched and summarized now, using the stub remembered from the last
// listing for its title and blurb.
func (o *Orchestrator) OpenArticle(ctx context.Context, rawURL string) (news.Article, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return news.Article{}, fmt.Errorf("open article: invalid url %q", rawURL)
	}

	key := cache.Key(rawURL)
	a, ok := o.stubs.Get(key)
	if !ok {
		a = news.Article{Key: key, URL: rawURL}
	}

	if o.reconcile(&a) {
		o.countLookups(1, 0)
		return a, nil
	}
	o.countLookups(0, 1)

	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	a, notice := o.process(ctx, a)
	if notice != nil {
		a.Notice = notice.Message
	}
	return a, nil
}

// list runs the category's adapters concurrently and assembles their stubs
// in priority order. Duplicate identities keep their first occurrence.
func (o *Orchestrator) list(ctx context.Context, sources []news.SourceDescriptor) ([]news.Article, []news.Notice) {
	perSource := make([][]news.Article, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(o.sourceLimit)
	for i, desc := range sources {
		g.Go(func() error {
			perSource[i], errs[i] = o.lister.ListArticles(ctx, desc)
			return nil
		})
	}
	_ = g.Wait()

	var (
		articles []news.Article
		notices  []news.Notice
		seen     = make(map[string]struct{})
	)
	for i, desc := range sources {
		if err := errs[i]; err != nil {
			o.logger.Warn("source failed", "source", desc.Name, "error", err)
			o.countSourceFailure(desc.Name)
			notices = append(notices, news.Notice{Source: desc.Name, URL: desc.URL, Message: err.Error()})
			continue
		}
		for _, a := range perSource[i] {
			a.Key = cache.Key(a.URL)
			if _, dup := seen[a.Key]; dup {
				continue
			}
			seen[a.Key] = struct{}{}
			articles = append(articles, a)
			o.stubs.Add(a.Key, a)
		}
		o.countListed(desc.Name, len(perSource[i]))
	}
	return articles, notices
}

// reconcile folds a cached outcome into a. It reports whether the article
// needs no further work.
func (o *Orchestrator) reconcile(a *news.Article) bool {
	entry, ok := o.cache.Lookup(a.URL)
	if !ok {
		return false
	}
	applyEntry(a, entry)
	return true
}

func applyEntry(a *news.Article, entry news.CacheEntry) {
	if a.Title == "" {
		a.Title = entry.Title
	}
	if a.Source == "" {
		a.Source = entry.Source
	}
	switch entry.Status {
	case news.StatusDone:
		a.Body = entry.Body
		a.Summary = entry.Summary
		a.Status = news.SummaryDone
		if entry.Fallback {
			a.Status = news.SummaryFallback
		}
	case news.StatusFailed:
		a.Summary = news.SummaryPlaceholder
		a.Status = news.SummaryFailed
		a.Notice = entry.Reason
	}
}

// process is one summarization task: reserve, fetch and extract the body,
// summarize, then commit or fail. A deadline or a spent request budget
// releases the claim instead, leaving the key absent for the next run.
func (o *Orchestrator) process(ctx context.Context, a news.Article) (news.Article, *news.Notice) {
	started := time.Now()
	log := o.logger.With("url", a.URL, "source", a.Source)

	res, err := o.cache.Reserve(ctx, a.URL)
	if err != nil {
		return o.abandon(a, started), nil
	}
	switch res.Outcome {
	case cache.AlreadyDone, cache.FailedThisRun:
		applyEntry(&a, res.Entry)
		return a, nil
	}
	tok := res.Token

	input, fallback, bodyErr := o.prepare(ctx, &a)
	if bodyErr != nil && outOfTime(ctx, bodyErr) {
		o.cache.Release(tok)
		return o.abandon(a, started), nil
	}
	if input.Body == "" {
		reason := "no article text"
		if bodyErr != nil {
			reason = bodyErr.Error()
		}
		log.Warn("article body unavailable", "error", reason)
		return o.fail(ctx, tok, a, reason, started)
	}
	if bodyErr != nil {
		log.Info("summarizing blurb instead of body", "error", bodyErr)
	}

	if err := o.calls.Acquire(ctx, 1); err != nil {
		o.cache.Release(tok)
		return o.abandon(a, started), nil
	}
	summary, err := o.summarizer.Summarize(ctx, input)
	o.calls.Release(1)

	if err != nil {
		if summarizer.IsBudgetExhausted(err) || outOfTime(ctx, err) {
			o.cache.Release(tok)
			return o.abandon(a, started), nil
		}
		log.Warn("summarization failed", "permanent", news.IsPermanent(err), "error", err)
		return o.fail(ctx, tok, a, err.Error(), started)
	}

	a.Summary = summary
	a.Status = news.SummaryDone
	outcome := metrics.OutcomeDone
	if fallback {
		a.Status = news.SummaryFallback
		outcome = metrics.OutcomeFallback
	}
	o.metrics.ObserveSummary(outcome, time.Since(started))

	var notice *news.Notice
	err = o.cache.Commit(context.WithoutCancel(ctx), tok, cache.Completed{
		Title:    a.Title,
		Source:   a.Source,
		Body:     a.Body,
		Summary:  summary,
		Fallback: fallback,
	})
	if err != nil {
		notice = &news.Notice{Source: a.Source, URL: a.URL, Message: fmt.Sprintf("summary not saved: %v", err)}
	}
	return a, notice
}

// outOfTime reports whether err comes from the run deadline, either because
// ctx is done or because a limiter refused a wait that would outlast it.
func outOfTime(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ratelimit.ErrDeadline)
}

// prepare fetches the article page and builds the summarization input. When
// the body is too short, or the page could not be read, the title and blurb
// are summarized instead and fallback is true.
func (o *Orchestrator) prepare(ctx context.Context, a *news.Article) (summarizer.Input, bool, error) {
	input := summarizer.Input{Title: a.Title, Source: a.Source}

	body, err := o.fetchBody(ctx, a.URL, o.byName[a.Source].Rules)
	if err == nil {
		a.Body = body.Text
		if a.Title == "" {
			a.Title = body.Title
			input.Title = body.Title
		}
		if !body.Short {
			input.Body = body.Text
			return input, false, nil
		}
	}

	switch {
	case a.Blurb != "":
		input.Body = a.Title + "\n\n" + a.Blurb
	case err == nil && body.Text != "":
		input.Body = body.Text
	}
	return input, true, err
}

func (o *Orchestrator) fetchBody(ctx context.Context, rawURL string, rules news.ExtractionRules) (scraper.Body, error) {
	raw, err := o.fetcher.Get(ctx, rawURL)
	if err != nil {
		return scraper.Body{}, err
	}
	pageURL, _ := url.Parse(rawURL)
	return scraper.ExtractBody(raw, pageURL, rules, o.minBodyChars)
}

func (o *Orchestrator) fail(ctx context.Context, tok *cache.Token, a news.Article, reason string, started time.Time) (news.Article, *news.Notice) {
	a.Summary = news.SummaryPlaceholder
	a.Status = news.SummaryFailed
	a.Notice = reason
	o.metrics.ObserveSummary(metrics.OutcomeFailed, time.Since(started))

	notice := &news.Notice{Source: a.Source, URL: a.URL, Message: reason}
	if err := o.cache.Fail(context.WithoutCancel(ctx), tok, reason); err != nil {
		notice.Message = fmt.Sprintf("%s (failure not saved: %v)", reason, err)
	}
	return a, notice
}

func (o *Orchestrator) abandon(a news.Article, started time.Time) news.Article {
	a.Summary = news.SummaryPlaceholder
	a.Status = news.SummaryUnavailable
	o.metrics.ObserveSummary(metrics.OutcomeAbandoned, time.Since(started))
	return a
}

func (o *Orchestrator) countLookups(hits, misses int) {
	if o.metrics == nil {
		return
	}
	o.metrics.CacheHits.Add(float64(hits))
	o.metrics.CacheMisses.Add(float64(misses))
}

func (o *Orchestrator) countListed(source string, n int) {
	if o.metrics == nil {
		return
	}
	o.metrics.ArticlesListed.WithLabelValues(source).Add(float64(n))
}

func (o *Orchestrator) countSourceFailure(source string) {
	if o.metrics == nil {
		return
	}
	o.metrics.SourceFailures.WithLabelValues(source).Inc()
}
