package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/retry"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	anthropicModel    = "claude-3-haiku-20240307"
)

type AnthropicConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// AnthropicBackend calls the Messages API directly.
type AnthropicBackend struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ Backend = (*AnthropicBackend)(nil)

func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = anthropicEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = anthropicModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &AnthropicBackend{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	if b.apiKey == "" {
		return "", &news.SummarizationError{Kind: news.KindAuth, Err: fmt.Errorf("anthropic api key is empty")}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     b.model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(fmt.Errorf("send anthropic request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &news.SummarizationError{Kind: news.KindUnavailable, Transient: true, Err: fmt.Errorf("read anthropic response: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", anthropicFailure(resp, payload)
	}

	var out anthropicResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &news.SummarizationError{Kind: news.KindEmpty, Transient: true, Err: fmt.Errorf("decode anthropic response: %w", err)}
	}
	if out.StopReason == "refusal" {
		return "", &news.SummarizationError{Kind: news.KindPolicy, Err: fmt.Errorf("model refused the request")}
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

func anthropicFailure(resp *http.Response, payload []byte) error {
	var apiErr anthropicError
	msg := strings.TrimSpace(string(payload))
	if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Type + ": " + apiErr.Error.Message
	}
	wait := retry.ParseRetryAfter(resp.Header.Get("retry-after"))
	se := fromStatus(resp.StatusCode, wait, fmt.Errorf("anthropic error %s: %s", resp.Status, msg))

	switch apiErr.Error.Type {
	case "overloaded_error", "api_error":
		se.Kind, se.Transient = news.KindUnavailable, true
	case "rate_limit_error":
		se.Kind, se.Transient = news.KindRateLimited, true
	case "authentication_error", "permission_error":
		se.Kind, se.Transient = news.KindAuth, false
	}
	return se
}
