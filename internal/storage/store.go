package storage

import (
	"context"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
)

// Store persists cache entries. Implementations must make each Put durable
// on its own so a crash never leaves a half-written entry behind.
type Store interface {
	// Load returns every persisted entry. Unreadable data degrades to an
	// empty result; only a store that cannot be opened at all errors.
	Load(ctx context.Context) ([]news.CacheEntry, error)
	Put(ctx context.Context, entry news.CacheEntry) error
	Close() error
}

// expired reports whether e is older than maxAge. Zero maxAge keeps everything.
func expired(e news.CacheEntry, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	stamp := e.UpdatedAt
	if stamp.IsZero() {
		stamp = e.FetchedAt
	}
	return stamp.Before(now.Add(-maxAge))
}
