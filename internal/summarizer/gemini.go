package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/deusflow/newsdigest/internal/news"
)

const geminiModel = "gemini-1.5-flash"

type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
}

// GeminiBackend summarizes through the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

var _ Backend = (*GeminiBackend)(nil)

func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.Model == "" {
		cfg.Model = geminiModel
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: cfg.Model}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", classifyGemini(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

func classifyGemini(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &news.SummarizationError{Kind: news.KindPolicy, Err: err}
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fromStatus(gerr.Code, 0, err)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return fromStatus(code, 0, err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			return fromGRPC(st.Code(), err)
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return fromGRPC(st.Code(), err)
	}
	return classify(err)
}

func fromGRPC(code codes.Code, err error) error {
	switch code {
	case codes.ResourceExhausted:
		return &news.SummarizationError{Kind: news.KindRateLimited, Transient: true, StatusCode: 429, Err: err}
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
		return &news.SummarizationError{Kind: news.KindUnavailable, Transient: true, Err: err}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &news.SummarizationError{Kind: news.KindAuth, Err: err}
	case codes.InvalidArgument, codes.FailedPrecondition:
		return &news.SummarizationError{Kind: news.KindPolicy, Err: err}
	default:
		return &news.SummarizationError{Kind: news.KindUnclassified, Err: err}
	}
}
