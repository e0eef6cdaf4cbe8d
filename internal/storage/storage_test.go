package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/logger"
	"github.com/deusflow/newsdigest/internal/news"
)

func entry(key string, age time.Duration) news.CacheEntry {
	stamp := time.Now().Add(-age)
	return news.CacheEntry{
		Key:       key,
		URL:       "https://example.com/" + key,
		Title:     "Title " + key,
		Source:    "Example",
		Body:      "body " + key,
		Summary:   "summary " + key,
		Status:    news.StatusDone,
		FetchedAt: stamp,
		UpdatedAt: stamp,
	}
}

func storeFactories(t *testing.T) map[string]func(path string, maxAge time.Duration) Store {
	return map[string]func(string, time.Duration) Store{
		"json": func(path string, maxAge time.Duration) Store {
			s, err := NewJSONStore(path+".json", maxAge, logger.Discard())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(path string, maxAge time.Duration) Store {
			s, err := NewSQLiteStore(path+".db", maxAge, logger.Discard())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache", "entries")

			s := open(path, 0)
			_, err := s.Load(ctx)
			require.NoError(t, err)

			require.NoError(t, s.Put(ctx, entry("a", 0)))
			failed := entry("b", 0)
			failed.Status, failed.Summary, failed.Reason = news.StatusFailed, "", "policy"
			require.NoError(t, s.Put(ctx, failed))
			updated := entry("a", 0)
			updated.Summary, updated.Fallback = "second summary", true
			require.NoError(t, s.Put(ctx, updated))
			require.NoError(t, s.Close())

			reopened := open(path, 0)
			defer reopened.Close()
			entries, err := reopened.Load(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)

			byKey := map[string]news.CacheEntry{}
			for _, e := range entries {
				byKey[e.Key] = e
			}
			assert.Equal(t, "second summary", byKey["a"].Summary)
			assert.True(t, byKey["a"].Fallback)
			assert.Equal(t, news.StatusFailed, byKey["b"].Status)
			assert.Equal(t, "policy", byKey["b"].Reason)
			assert.WithinDuration(t, updated.UpdatedAt, byKey["a"].UpdatedAt, time.Millisecond)
		})
	}
}

func TestStoresPruneByAge(t *testing.T) {
	ctx := context.Background()
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "entries")

			s := open(path, 0)
			require.NoError(t, s.Put(ctx, entry("fresh", time.Hour)))
			require.NoError(t, s.Put(ctx, entry("stale", 72*time.Hour)))
			require.NoError(t, s.Close())

			reopened := open(path, 24*time.Hour)
			defer reopened.Close()
			entries, err := reopened.Load(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "fresh", entries[0].Key)
		})
	}
}

func TestJSONStoreCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewJSONStore(path, 0, logger.Discard())
	require.NoError(t, err)
	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	moved, err := filepath.Glob(filepath.Join(dir, "cache.json.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, moved, 1)

	require.NoError(t, s.Put(context.Background(), entry("a", 0)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"key": "a"`)
}

func TestSQLiteStoreCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	garbage := []byte(strings.Repeat("this is not a database page ", 64))
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	s, err := NewSQLiteStore(path, 0, logger.Discard())
	require.NoError(t, err)
	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	moved, err := filepath.Glob(filepath.Join(dir, "cache.db.corrupt-*"))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	kept, err := os.ReadFile(moved[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, kept)

	require.NoError(t, s.Put(context.Background(), entry("a", 0)))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, 0, logger.Discard())
	require.NoError(t, err)
	defer reopened.Close()
	entries, err = reopened.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Key)
}

func TestJSONStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(filepath.Join(dir, "cache.json"), 0, logger.Discard())
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(context.Background(), entry(k, 0)))
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "cache.json", files[0].Name())
}

func TestJSONStoreUncreatableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := NewJSONStore(filepath.Join(blocker, "sub", "cache.json"), 0, logger.Discard())
	var ce *news.CacheError
	assert.ErrorAs(t, err, &ce)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore(entry("seed", 0))
	require.NoError(t, m.Put(context.Background(), entry("x", 0)))

	entries, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, m.Puts())
}
