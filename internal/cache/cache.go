package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/storage"
)

// ErrStaleToken is returned when a token no longer holds its key's claim.
var ErrStaleToken = errors.New("cache: reservation token is not the current holder")

// Outcome is the result of Reserve.
type Outcome int

const (
	// Claimed means the caller now holds the exclusive right to summarize.
	Claimed Outcome = iota + 1
	// AlreadyDone means a summary exists; Entry carries it.
	AlreadyDone
	// FailedThisRun means the key failed permanently and must not be retried now.
	FailedThisRun
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyDone:
		return "already_done"
	case FailedThisRun:
		return "failed_this_run"
	default:
		return "unknown"
	}
}

// Token proves a caller holds the claim on one key.
type Token struct {
	id  string
	key string
	url string
}

func (t *Token) Key() string { return t.key }
func (t *Token) URL() string { return t.url }

type Reservation struct {
	Outcome Outcome
	Token   *Token
	Entry   news.CacheEntry
}

// Completed is what a successful summarization commits.
type Completed struct {
	Title    string
	Source   string
	Body     string
	Summary  string
	Fallback bool
}

type Options struct {
	// RetryFailedNextRun treats failed entries loaded from the store as absent.
	RetryFailedNextRun bool
	Logger             *slog.Logger
	Now                func() time.Time
}

// slot is the per-key state. Its mutex is never held across store I/O.
type slot struct {
	mu            sync.Mutex
	entry         news.CacheEntry
	hasEntry      bool
	failedThisRun bool
	holder        string
	released      chan struct{}
}

// Cache deduplicates summarization work by article identity and persists the
// results through a Store. At most one caller holds the claim for a key.
type Cache struct {
	store       storage.Store
	retryFailed bool
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	slots map[string]*slot
}

// New loads the store's entries. Pending entries from an interrupted run are
// dropped, which makes them absent.
func New(ctx context.Context, store storage.Store, opts Options) (*Cache, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entries, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	c := &Cache{
		store:       store,
		retryFailed: opts.RetryFailedNextRun,
		logger:      opts.Logger.With("component", "cache"),
		now:         opts.Now,
		slots:       make(map[string]*slot, len(entries)),
	}

	var done, failed int
	for _, e := range entries {
		switch e.Status {
		case news.StatusDone:
			done++
		case news.StatusFailed:
			failed++
		default:
			continue
		}
		c.slots[e.Key] = &slot{entry: e, hasEntry: true}
	}
	c.logger.Debug("cache loaded", "done", done, "failed", failed)
	return c, nil
}

func (c *Cache) slotFor(key string) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	return s
}

func (c *Cache) peek(key string) (*slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	return s, ok
}

// terminalFailure reports whether a failed entry blocks work in this process.
func (c *Cache) terminalFailure(s *slot) bool {
	return s.failedThisRun || !c.retryFailed
}

// Lookup returns the entry for url when it is done, or failed and terminal
// for this run. Anything else reads as absent.
func (c *Cache) Lookup(url string) (news.CacheEntry, bool) {
	s, ok := c.peek(Key(url))
	if !ok {
		return news.CacheEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasEntry {
		return news.CacheEntry{}, false
	}
	switch s.entry.Status {
	case news.StatusDone:
		return s.entry, true
	case news.StatusFailed:
		if c.terminalFailure(s) {
			return s.entry, true
		}
	}
	return news.CacheEntry{}, false
}

// Reserve claims the right to summarize url. While another caller holds the
// claim, Reserve blocks until it is committed, failed or released and then
// re-evaluates. It returns ctx's error if ctx ends first.
func (c *Cache) Reserve(ctx context.Context, url string) (Reservation, error) {
	key := Key(url)
	s := c.slotFor(key)

	for {
		s.mu.Lock()
		if s.holder != "" {
			wait := s.released
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return Reservation{}, ctx.Err()
			}
		}

		if s.hasEntry {
			switch {
			case s.entry.Status == news.StatusDone:
				entry := s.entry
				s.mu.Unlock()
				return Reservation{Outcome: AlreadyDone, Entry: entry}, nil
			case s.entry.Status == news.StatusFailed && c.terminalFailure(s):
				entry := s.entry
				s.mu.Unlock()
				return Reservation{Outcome: FailedThisRun, Entry: entry}, nil
			}
		}

		tok := &Token{id: uuid.NewString(), key: key, url: url}
		s.holder = tok.id
		s.released = make(chan struct{})
		s.mu.Unlock()
		return Reservation{Outcome: Claimed, Token: tok}, nil
	}
}

// Commit moves the claimed key to done and persists it. The in-memory entry
// is updated even when persisting fails; the error is a *news.CacheError.
func (c *Cache) Commit(ctx context.Context, tok *Token, res Completed) error {
	now := c.now()
	entry := news.CacheEntry{
		Key:       tok.key,
		URL:       NormalizeURL(tok.url),
		Title:     res.Title,
		Source:    res.Source,
		Body:      res.Body,
		Summary:   res.Summary,
		Fallback:  res.Fallback,
		Status:    news.StatusDone,
		FetchedAt: now,
		UpdatedAt: now,
	}
	return c.resolve(ctx, tok, entry, false)
}

// Fail moves the claimed key to failed. It stays terminal for the rest of
// this process.
func (c *Cache) Fail(ctx context.Context, tok *Token, reason string) error {
	now := c.now()
	entry := news.CacheEntry{
		Key:       tok.key,
		URL:       NormalizeURL(tok.url),
		Status:    news.StatusFailed,
		Reason:    reason,
		FetchedAt: now,
		UpdatedAt: now,
	}
	return c.resolve(ctx, tok, entry, true)
}

func (c *Cache) resolve(ctx context.Context, tok *Token, entry news.CacheEntry, failed bool) error {
	s, ok := c.peek(tok.key)
	if !ok {
		return ErrStaleToken
	}

	s.mu.Lock()
	if s.holder != tok.id {
		s.mu.Unlock()
		return ErrStaleToken
	}
	s.mu.Unlock()

	// The claim is still held, so no one else can touch this key while the
	// store writes.
	putErr := c.store.Put(ctx, entry)

	s.mu.Lock()
	s.entry = entry
	s.hasEntry = true
	s.failedThisRun = failed
	s.holder = ""
	close(s.released)
	s.mu.Unlock()

	if putErr != nil {
		c.logger.Warn("cache entry not persisted", "key", tok.key, "status", entry.Status, "error", putErr)
		return putErr
	}
	return nil
}

// Release gives up a claim without any state change, as when the run
// deadline or request budget runs out. The key reads as absent afterwards.
func (c *Cache) Release(tok *Token) {
	s, ok := c.peek(tok.key)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != tok.id {
		return
	}
	s.holder = ""
	close(s.released)
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
