package summarizer

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/deusflow/newsdigest/internal/news"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIBackend summarizes through the chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

var _ Backend = (*OpenAIBackend)(nil)

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               b.model,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", &news.SummarizationError{Kind: news.KindPolicy, Err: errors.New("completion stopped by content filter")}
	}
	return strings.TrimSpace(choice.Message.Content), nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		se := fromStatus(apiErr.HTTPStatusCode, 0, err)
		if apiErr.Type == "insufficient_quota" || apiErr.Code == "insufficient_quota" {
			se.Kind, se.Transient = news.KindAuth, false
		}
		return se
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return fromStatus(reqErr.HTTPStatusCode, 0, err)
	}
	return classify(err)
}
