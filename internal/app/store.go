package app

import (
	"fmt"
	"log/slog"

	"github.com/deusflow/newsdigest/internal/config"
	"github.com/deusflow/newsdigest/internal/storage"
)

// openStore picks the cache backend from the config. When the configured
// store cannot be opened and memory_fallback is set, the run continues on an
// in-memory store; otherwise the error is returned and startup stops.
func openStore(cfg config.CacheConfig, logger *slog.Logger) (storage.Store, error) {
	store, err := openConfiguredStore(cfg, logger)
	if err == nil {
		return store, nil
	}
	if !cfg.MemoryFallback {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Backend, err)
	}
	logger.Warn("cache store unavailable, using memory; summaries will not persist",
		"backend", cfg.Backend, "path", cfg.Path, "error", err)
	return storage.NewMemoryStore(), nil
}

func openConfiguredStore(cfg config.CacheConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Path, cfg.MaxAge, logger)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewJSONStore(cfg.Path, cfg.MaxAge, logger)
	}
}
