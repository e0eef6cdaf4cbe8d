package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/deusflow/newsdigest/internal/news"
)

// MemoryStore keeps entries for the life of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]news.CacheEntry
	puts  int
}

func NewMemoryStore(seed ...news.CacheEntry) *MemoryStore {
	m := &MemoryStore{items: make(map[string]news.CacheEntry, len(seed))}
	for _, e := range seed {
		m.items[e.Key] = e
	}
	return m
}

func (m *MemoryStore) Load(context.Context) ([]news.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]news.CacheEntry, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, e news.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[e.Key] = e
	m.puts++
	return nil
}

// Puts counts Put calls.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

func (m *MemoryStore) Close() error { return nil }
