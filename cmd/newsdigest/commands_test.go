package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/newsdigest/internal/credentials"
)

type testEnv struct {
	srv        *httptest.Server
	configPath string
	envFile    string
	calls      atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, name := range []string{"CLAUDE_API_KEY", credentials.GenericEnv, "NEWSDIGEST_CONFIG", "CACHE_BACKEND", "CACHE_PATH", "SUMMARIZER_PROVIDER", "SUMMARIZER_ENDPOINT", "DEBUG"} {
		t.Setenv(name, "")
	}
	env := &testEnv{}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>Harbour reopens</title><link>%s/story/1</link><description>The harbour reopened.</description></item>
</channel></rss>`, env.srv.URL)
	})
	mux.HandleFunc("/story/1", func(w http.ResponseWriter, r *http.Request) {
		para := strings.Repeat("Ships returned to the harbour on Monday after repairs to the main pier were finished. ", 3)
		fmt.Fprintf(w, `<html><body><article><p>%s</p><p>%s</p><p>%s</p></article></body></html>`, para, para, para)
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		env.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": "The harbour is open again."}},
			"stop_reason": "end_turn",
		})
	})
	env.srv = httptest.NewServer(mux)
	t.Cleanup(env.srv.Close)

	dir := t.TempDir()
	env.envFile = filepath.Join(dir, ".env")
	env.configPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`log:
  level: error
fetch:
  max_retries: 0
  host_interval: 0s
cache:
  path: %s
summarizer:
  endpoint: %s/v1/messages
  requests_per_minute: 0
sources:
  - name: Harbour Times
    category: world
    kind: rss
    url: %s/feed.xml
`, filepath.Join(dir, "cache.json"), env.srv.URL, env.srv.URL)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))
	return env
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", e.envFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCategoriesCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "", "categories")
	require.NoError(t, err)
	assert.Contains(t, out, "world")
	assert.Contains(t, out, "1. Harbour Times")
}

func TestListAndOpenCommands(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("CLAUDE_API_KEY", "sk-test")

	out, err := env.run(t, "", "list", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "WORLD news")
	assert.Contains(t, out, "1. Harbour reopens")
	assert.Contains(t, out, "The harbour is open again.")
	assert.EqualValues(t, 1, env.calls.Load())

	saveDir := t.TempDir()
	metricsFile := filepath.Join(t.TempDir(), "metrics.prom")
	out, err = env.run(t, "", "--metrics-file", metricsFile, "open", env.srv.URL+"/story/1", "--save", saveDir)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY:")
	assert.Contains(t, out, "The harbour is open again.")
	assert.EqualValues(t, 1, env.calls.Load(), "open must be served from the cache")

	files, err := os.ReadDir(saveDir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].Name(), ".txt"))
	assert.FileExists(t, metricsFile)
}

func TestMissingKeyPromptsAndSaves(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "sk-entered\n", "list", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "Enter your anthropic API key")

	saved, err := godotenv.Read(env.envFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-entered", saved["CLAUDE_API_KEY"])
}

func TestMissingKeyWithoutInputFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "", "list", "world")
	assert.ErrorIs(t, err, credentials.ErrMissing)
}

func TestUnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("CLAUDE_API_KEY", "sk-test")

	_, err := env.run(t, "", "list", "mars")
	assert.Error(t, err)
}
