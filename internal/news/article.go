package news

import "time"

// Category groups sources shown together (the original menu had canada, us and world).
type Category string

const (
	CategoryCanada Category = "canada"
	CategoryUS     Category = "us"
	CategoryWorld  Category = "world"
)

// SourceKind selects the listing extractor used for a source.
type SourceKind string

const (
	KindRSS  SourceKind = "rss"
	KindHTML SourceKind = "html"
)

// ExtractionRules are the CSS selectors describing one source's markup.
// RSS sources only use Body; HTML listing sources need at least Item and Link.
type ExtractionRules struct {
	Item      string `yaml:"item"`
	Headline  string `yaml:"headline"`
	Link      string `yaml:"link"`
	Byline    string `yaml:"byline"`
	Blurb     string `yaml:"blurb"`
	Published string `yaml:"published"`
	Body      string `yaml:"body"`
}

// SourceDescriptor identifies a configured news source. Priority is the
// configured position of the source within its category (lower first).
type SourceDescriptor struct {
	Name     string
	Category Category
	URL      string
	Kind     SourceKind
	Priority int
	Rules    ExtractionRules
}

// SummaryStatus is the article-level view of summarization.
type SummaryStatus string

const (
	// SummaryNone means the article has not been summarized (listing stub).
	SummaryNone SummaryStatus = ""
	// SummaryDone carries a model summary, fresh or cached.
	SummaryDone SummaryStatus = "done"
	// SummaryFallback means the body was too short and the blurb was summarized instead.
	SummaryFallback SummaryStatus = "fallback"
	// SummaryFailed marks a permanent failure for this run.
	SummaryFailed SummaryStatus = "failed"
	// SummaryUnavailable marks an item abandoned by deadline or request budget.
	SummaryUnavailable SummaryStatus = "unavailable"
)

// SummaryPlaceholder is shown instead of a summary for degraded items.
const SummaryPlaceholder = "summary unavailable"

// Article is a listed item. Key is the hash of the normalized URL and is the
// identity shared with the cache.
type Article struct {
	Key         string
	URL         string
	Title       string
	Source      string
	Priority    int
	Position    int
	Byline      string
	Blurb       string
	PublishedAt *time.Time

	Body    string
	Summary string
	Status  SummaryStatus
	Notice  string
}

// HasSummary reports whether Summary holds model output.
func (a Article) HasSummary() bool {
	return a.Status == SummaryDone || a.Status == SummaryFallback
}

// EntryStatus is the persisted summarization state of a cache entry.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusDone    EntryStatus = "done"
	StatusFailed  EntryStatus = "failed"
)

// CacheEntry is the persisted record for one article identity.
type CacheEntry struct {
	Key       string      `json:"key"`
	URL       string      `json:"url"`
	Title     string      `json:"title,omitempty"`
	Source    string      `json:"source,omitempty"`
	Body      string      `json:"body,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	Fallback  bool        `json:"fallback,omitempty"`
	Status    EntryStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	FetchedAt time.Time   `json:"fetched_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Notice is a non-fatal problem surfaced alongside a result.
type Notice struct {
	Source  string
	URL     string
	Message string
}

// RunStats counts what a pipeline run did.
type RunStats struct {
	Listed         int
	CacheHits      int
	Summarized     int
	Failed         int
	Abandoned      int
	SourceFailures int
}

// CategoryResult is the ordered output of one run for one category.
type CategoryResult struct {
	Category Category
	Articles []Article
	Notices  []Notice
	Stats    RunStats
}
