package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/newsdigest/internal/news"
)

const configPathEnv = "NEWSDIGEST_CONFIG"

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Extract    ExtractConfig    `yaml:"extract"`
	Cache      CacheConfig      `yaml:"cache"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Sources    []SourceConfig   `yaml:"sources"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// FetchConfig drives the HTTP fetcher used for listing and detail pages.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	HostInterval time.Duration `yaml:"host_interval"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type ExtractConfig struct {
	// MinBodyChars is the length below which a body is too short to summarize.
	MinBodyChars int `yaml:"min_body_chars"`
}

// CacheConfig selects and tunes the on-disk summary cache.
type CacheConfig struct {
	Backend            string        `yaml:"backend"` // json | sqlite | memory
	Path               string        `yaml:"path"`
	MaxAge             time.Duration `yaml:"max_age"` // 0 keeps entries forever
	RetryFailedNextRun bool          `yaml:"retry_failed_next_run"`
	MemoryFallback     bool          `yaml:"memory_fallback"`
}

type SummarizerConfig struct {
	Provider       string        `yaml:"provider"` // anthropic | gemini | openai
	Model          string        `yaml:"model"`
	Endpoint       string        `yaml:"endpoint"`
	MaxTokens      int           `yaml:"max_tokens"`
	MaxInputChars  int           `yaml:"max_input_chars"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	MaxRequestsRun int           `yaml:"max_requests_per_run"` // 0 = unlimited
	MaxConcurrent  int           `yaml:"max_concurrent"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	SystemPrompt   string        `yaml:"system_prompt"`
}

type PipelineConfig struct {
	Workers              int           `yaml:"workers"`
	SourceConcurrency    int           `yaml:"source_concurrency"`
	RunTimeout           time.Duration `yaml:"run_timeout"`
	MaxArticlesPerSource int           `yaml:"max_articles_per_source"`
	SummarizeOnList      bool          `yaml:"summarize_on_list"`
	RecentStubs          int           `yaml:"recent_stubs"`
}

// SourceConfig is one entry of the sources list.
type SourceConfig struct {
	Name     string               `yaml:"name"`
	Category string               `yaml:"category"`
	Kind     string               `yaml:"kind"`
	URL      string               `yaml:"url"`
	Rules    news.ExtractionRules `yaml:"rules"`
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $NEWSDIGEST_CONFIG), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// Default returns the built-in configuration with the embedded source list.
func Default() (*Config, error) {
	cfg := &Config{
		Log: LogConfig{Level: "info"},
		Fetch: FetchConfig{
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     8 * time.Second,
			HostInterval: 500 * time.Millisecond,
			UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			MaxBodyBytes: 5 << 20,
		},
		Extract: ExtractConfig{
			MinBodyChars: 100,
		},
		Cache: CacheConfig{
			Backend:            "json",
			Path:               "summaries/cache.json",
			RetryFailedNextRun: true,
		},
		Summarizer: SummarizerConfig{
			Provider:       "anthropic",
			MaxTokens:      1000,
			MaxInputChars:  12000,
			Timeout:        30 * time.Second,
			MaxRetries:     4,
			BaseDelay:      time.Second,
			MaxDelay:       20 * time.Second,
			RequestsPerMin: 50,
			MaxConcurrent:  2,
		},
		Pipeline: PipelineConfig{
			Workers:              8,
			SourceConcurrency:    3,
			RunTimeout:           3 * time.Minute,
			MaxArticlesPerSource: 10,
			SummarizeOnList:      true,
			RecentStubs:          512,
		},
	}

	var defaults sourcesFile
	if err := yaml.Unmarshal(defaultSourcesYAML, &defaults); err != nil {
		return nil, fmt.Errorf("parse embedded sources: %w", err)
	}
	cfg.Sources = defaults.Sources
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	if os.Getenv("DEBUG") == "true" {
		c.Log.Level = "debug"
	}

	c.Cache.Backend = getEnvOrDefault("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Path = getEnvOrDefault("CACHE_PATH", c.Cache.Path)
	if v := os.Getenv("CACHE_RETRY_FAILED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.RetryFailedNextRun = b
		}
	}

	c.Summarizer.Provider = getEnvOrDefault("SUMMARIZER_PROVIDER", c.Summarizer.Provider)
	c.Summarizer.Model = getEnvOrDefault("SUMMARIZER_MODEL", c.Summarizer.Model)
	c.Summarizer.Endpoint = getEnvOrDefault("SUMMARIZER_ENDPOINT", c.Summarizer.Endpoint)
	c.Summarizer.MaxRequestsRun = getEnvIntOrDefault("MAX_SUMMARY_REQUESTS", c.Summarizer.MaxRequestsRun)

	c.Pipeline.Workers = getEnvIntOrDefault("PIPELINE_WORKERS", c.Pipeline.Workers)
	c.Pipeline.MaxArticlesPerSource = getEnvIntOrDefault("MAX_ARTICLES_PER_SOURCE", c.Pipeline.MaxArticlesPerSource)
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Fetch.Timeout = d
		}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("cache.backend must be json, sqlite or memory, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend != "memory" && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required for the %s backend", c.Cache.Backend)
	}

	switch c.Summarizer.Provider {
	case "anthropic", "gemini", "openai":
	default:
		return fmt.Errorf("summarizer.provider must be anthropic, gemini or openai, got %q", c.Summarizer.Provider)
	}
	if c.Summarizer.MaxInputChars < 200 {
		return fmt.Errorf("summarizer.max_input_chars must be at least 200")
	}
	if c.Summarizer.MaxRetries < 0 || c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.Fetch.Timeout <= 0 || c.Summarizer.Timeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if c.Summarizer.MaxConcurrent <= 0 {
		return fmt.Errorf("summarizer.max_concurrent must be positive")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := map[string]struct{}{}
	for i, s := range c.Sources {
		if s.Name == "" || s.Category == "" {
			return fmt.Errorf("source #%d: name and category are required", i+1)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("source %s: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}

		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("source %s: invalid url %q", s.Name, s.URL)
		}
		switch news.SourceKind(s.Kind) {
		case news.KindRSS:
		case news.KindHTML:
			if s.Rules.Item == "" || s.Rules.Link == "" {
				return fmt.Errorf("source %s: html sources need rules.item and rules.link", s.Name)
			}
		default:
			return fmt.Errorf("source %s: kind must be rss or html, got %q", s.Name, s.Kind)
		}
	}
	return nil
}

// Descriptors converts the source list into immutable descriptors. Priority
// is the position of the source within its category.
func (c *Config) Descriptors() []news.SourceDescriptor {
	positions := map[string]int{}
	out := make([]news.SourceDescriptor, 0, len(c.Sources))
	for _, s := range c.Sources {
		cat := strings.ToLower(strings.TrimSpace(s.Category))
		out = append(out, news.SourceDescriptor{
			Name:     s.Name,
			Category: news.Category(cat),
			URL:      s.URL,
			Kind:     news.SourceKind(s.Kind),
			Priority: positions[cat],
			Rules:    s.Rules,
		})
		positions[cat]++
	}
	return out
}

// Categories lists categories in the order they first appear in the sources.
func (c *Config) Categories() []news.Category {
	var cats []news.Category
	seen := map[string]struct{}{}
	for _, s := range c.Sources {
		cat := strings.ToLower(strings.TrimSpace(s.Category))
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		cats = append(cats, news.Category(cat))
	}
	return cats
}
