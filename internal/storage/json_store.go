package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
)

// JSONStore keeps all entries in a single JSON file. Every Put rewrites the
// file through a temp file and rename, so readers never see a partial write.
type JSONStore struct {
	filePath string
	maxAge   time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	items map[string]news.CacheEntry
}

// NewJSONStore prepares the cache directory. It fails only when the directory
// cannot be created or written.
func NewJSONStore(filePath string, maxAge time.Duration, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &news.CacheError{Op: "init", Path: dir, Err: err}
	}
	return &JSONStore{
		filePath: filePath,
		maxAge:   maxAge,
		logger:   logger.With("component", "json_store"),
		items:    make(map[string]news.CacheEntry),
	}, nil
}

// Load reads the cache file, dropping entries older than maxAge. A missing
// file is an empty cache; a corrupt one is moved aside and also yields an
// empty cache.
func (s *JSONStore) Load(_ context.Context) ([]news.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		s.quarantine(&news.CacheError{Op: "read", Path: s.filePath, Err: err})
		return nil, nil
	}
	if len(data) == 0 {
		return nil, nil
	}

	var items []news.CacheEntry
	if err := json.Unmarshal(data, &items); err != nil {
		s.quarantine(&news.CacheError{Op: "decode", Path: s.filePath, Err: err})
		return nil, nil
	}

	now := time.Now()
	out := make([]news.CacheEntry, 0, len(items))
	for _, item := range items {
		if item.Key == "" || expired(item, s.maxAge, now) {
			continue
		}
		s.items[item.Key] = item
		out = append(out, item)
	}
	return out, nil
}

func (s *JSONStore) quarantine(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.filePath, time.Now().Unix())
	if err := os.Rename(s.filePath, aside); err != nil {
		s.logger.Warn("cache file unreadable, starting empty", "error", cause, "rename_error", err)
		return
	}
	s.logger.Warn("cache file unreadable, moved aside and starting empty", "error", cause, "moved_to", aside)
}

// Put records e and rewrites the file.
func (s *JSONStore) Put(_ context.Context, e news.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[e.Key] = e
	return s.save()
}

func (s *JSONStore) save() error {
	items := make([]news.CacheEntry, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return &news.CacheError{Op: "encode", Path: s.filePath, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), filepath.Base(s.filePath)+".tmp-*")
	if err != nil {
		return &news.CacheError{Op: "write", Path: s.filePath, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &news.CacheError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &news.CacheError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &news.CacheError{Op: "write", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		return &news.CacheError{Op: "rename", Path: s.filePath, Err: err}
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }
