package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/logger"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/storage"
)

const articleURL = "https://www.cbc.ca/news/canada/story-1.7000001?utm_source=rss"

func newCache(t *testing.T, store storage.Store, retryFailed bool) *Cache {
	t.Helper()
	c, err := New(context.Background(), store, Options{RetryFailedNextRun: retryFailed, Logger: logger.Discard()})
	require.NoError(t, err)
	return c
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"http://WWW.Example.com/a/b/?utm_source=x&b=2&a=1#frag": "https://example.com/a/b?a=1&b=2",
		"https://example.com/a?fbclid=abc":                      "https://example.com/a",
		"https://example.com/":                                  "https://example.com",
		"https://example.com:443/x":                             "https://example.com/x",
		"https://example.com:8443/x?at_medium=1&id=5":           "https://example.com:8443/x?id=5",
		"not a url":                                             "not a url",
		"http://[::1]:8080/x/":                                  "https://[::1]:8080/x",
		"http://[2001:DB8::1]/a":                                "https://[2001:db8::1]/a",
		"https://[2001:db8::1]:443/a":                           "https://[2001:db8::1]/a",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}

func TestKeySharedAcrossVariants(t *testing.T) {
	assert.Equal(t, Key("http://www.cbc.ca/news/canada/story-1.7000001/"), Key(articleURL))
	assert.NotEqual(t, Key("https://cbc.ca/a"), Key("https://cbc.ca/b"))
	assert.Len(t, Key(articleURL), 64)
}

func TestReserveCommitLookup(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := newCache(t, store, true)

	_, ok := c.Lookup(articleURL)
	assert.False(t, ok)

	res, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)
	require.Equal(t, Claimed, res.Outcome)
	require.NotNil(t, res.Token)

	require.NoError(t, c.Commit(ctx, res.Token, Completed{Title: "T", Source: "CBC", Body: "body", Summary: "sum"}))

	entry, ok := c.Lookup("http://cbc.ca/news/canada/story-1.7000001")
	require.True(t, ok)
	assert.Equal(t, news.StatusDone, entry.Status)
	assert.Equal(t, "sum", entry.Summary)
	assert.Equal(t, 1, store.Puts())

	again, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)
	assert.Equal(t, AlreadyDone, again.Outcome)
	assert.Equal(t, "sum", again.Entry.Summary)
}

func TestConcurrentReserveYieldsOneClaim(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, storage.NewMemoryStore(), true)

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := c.Reserve(ctx, articleURL)
			assert.NoError(t, err)
			if res.Outcome == Claimed {
				time.Sleep(20 * time.Millisecond)
				assert.NoError(t, c.Commit(ctx, res.Token, Completed{Summary: "once"}))
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, outcomes[Claimed])
	assert.Equal(t, callers-1, outcomes[AlreadyDone])
}

func TestFailIsTerminalForThisRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := newCache(t, store, true)

	res, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)
	require.NoError(t, c.Fail(ctx, res.Token, "policy rejection"))

	again, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)
	assert.Equal(t, FailedThisRun, again.Outcome)
	assert.Equal(t, "policy rejection", again.Entry.Reason)

	entry, ok := c.Lookup(articleURL)
	require.True(t, ok)
	assert.Equal(t, news.StatusFailed, entry.Status)
}

func TestFailedEntriesOnNextRun(t *testing.T) {
	ctx := context.Background()
	failed := news.CacheEntry{Key: Key(articleURL), URL: NormalizeURL(articleURL), Status: news.StatusFailed, Reason: "x"}

	t.Run("absent by default", func(t *testing.T) {
		c := newCache(t, storage.NewMemoryStore(failed), true)
		_, ok := c.Lookup(articleURL)
		assert.False(t, ok)

		res, err := c.Reserve(ctx, articleURL)
		require.NoError(t, err)
		assert.Equal(t, Claimed, res.Outcome)
	})

	t.Run("terminal when configured", func(t *testing.T) {
		c := newCache(t, storage.NewMemoryStore(failed), false)
		res, err := c.Reserve(ctx, articleURL)
		require.NoError(t, err)
		assert.Equal(t, FailedThisRun, res.Outcome)
	})
}

func TestPendingEntriesLoadAsAbsent(t *testing.T) {
	pending := news.CacheEntry{Key: Key(articleURL), Status: news.StatusPending}
	c := newCache(t, storage.NewMemoryStore(pending), true)

	res, err := c.Reserve(context.Background(), articleURL)
	require.NoError(t, err)
	assert.Equal(t, Claimed, res.Outcome)
}

func TestReleaseWakesWaiterWhoClaims(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c := newCache(t, store, true)

	first, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)

	got := make(chan Reservation, 1)
	go func() {
		res, err := c.Reserve(ctx, articleURL)
		if err == nil {
			got <- res
		}
	}()

	time.Sleep(20 * time.Millisecond)
	c.Release(first.Token)

	select {
	case res := <-got:
		assert.Equal(t, Claimed, res.Outcome)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	assert.Zero(t, store.Puts(), "release persists nothing")

	_, ok := c.Lookup(articleURL)
	assert.False(t, ok)
}

func TestReserveHonorsContext(t *testing.T) {
	c := newCache(t, storage.NewMemoryStore(), true)
	_, err := c.Reserve(context.Background(), articleURL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Reserve(ctx, articleURL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleTokenRejected(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, storage.NewMemoryStore(), true)

	res, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)
	c.Release(res.Token)

	err = c.Commit(ctx, res.Token, Completed{Summary: "late"})
	assert.True(t, errors.Is(err, ErrStaleToken))
}

type failingStore struct{ *storage.MemoryStore }

func (f *failingStore) Put(context.Context, news.CacheEntry) error {
	return &news.CacheError{Op: "put", Err: errors.New("disk full")}
}

func TestCommitKeepsSummaryWhenPersistFails(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, &failingStore{MemoryStore: storage.NewMemoryStore()}, true)

	res, err := c.Reserve(ctx, articleURL)
	require.NoError(t, err)

	err = c.Commit(ctx, res.Token, Completed{Summary: "kept"})
	var ce *news.CacheError
	require.ErrorAs(t, err, &ce)

	entry, ok := c.Lookup(articleURL)
	require.True(t, ok)
	assert.Equal(t, "kept", entry.Summary)
}
