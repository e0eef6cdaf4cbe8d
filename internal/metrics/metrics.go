package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ArticlesListed   *prometheus.CounterVec
	SourceFailures   *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	Summaries        *prometheus.CounterVec
	SummarizeLatency prometheus.Histogram
	FetchRetries     prometheus.Counter
	LastRun          prometheus.Gauge
}

// Outcome labels for the summaries counter.
const (
	OutcomeDone      = "done"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
)

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ArticlesListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "articles_listed_total",
			Help:      "Articles extracted from listing pages.",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "source_failures_total",
			Help:      "Listing fetches or parses that failed.",
		}, []string{"source"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "cache_hits_total",
			Help:      "Articles served from the summary cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "cache_misses_total",
			Help:      "Articles that needed summarization.",
		}),
		Summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "summaries_total",
			Help:      "Summarization tasks by outcome.",
		}, []string{"outcome"}),
		SummarizeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsdigest",
			Name:      "summarize_duration_seconds",
			Help:      "Latency of successful summarization calls, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsdigest",
			Name:      "fetch_retries_total",
			Help:      "HTTP fetch attempts that were retried.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsdigest",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed pipeline run.",
		}),
	}

	m.Registry.MustRegister(
		m.ArticlesListed,
		m.SourceFailures,
		m.CacheHits,
		m.CacheMisses,
		m.Summaries,
		m.SummarizeLatency,
		m.FetchRetries,
		m.LastRun,
	)
	return m
}

// ObserveSummary records a finished summarization task.
func (m *Metrics) ObserveSummary(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Summaries.WithLabelValues(outcome).Inc()
	if outcome == OutcomeDone || outcome == OutcomeFallback {
		m.SummarizeLatency.Observe(took.Seconds())
	}
}

// SetLastRun stamps the completion time of a run.
func (m *Metrics) SetLastRun(t time.Time) {
	if m == nil {
		return
	}
	m.LastRun.Set(float64(t.Unix()))
}

// WriteFile dumps all collectors in Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
