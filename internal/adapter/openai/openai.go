package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/openai"
)

// Ensure OpenAIAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter streams chat completions from any OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	client  sdk.Client
	baseURL string
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey       string
	BaseURL      string // optional, defaults to https://api.openai.com/v1
	Organization string // optional
	// HeaderTimeout bounds the wait for response headers. The body of a
	// stream is never subject to a timeout.
	HeaderTimeout time.Duration
	HTTPClient    *http.Client // optional, overrides HeaderTimeout
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/") + "/"

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HeaderTimeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		httpClient = &http.Client{Transport: transport}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		// failures surface to the caller as-is; nothing is retried
		option.WithMaxRetries(0),
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}

	return &OpenAIAdapter{
		client:  sdk.NewClient(opts...),
		baseURL: baseURL,
	}, nil
}

// CreateCompletionStream starts a streaming chat completion.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages provided")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("openai: model required")
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, buildParams(req))

	eventChan := make(chan adapter.StreamEvent, 16)
	go func() {
		defer close(eventChan)
		defer stream.Close()

		for stream.Next() {
			chunk := convertChunk(stream.Current())
			if chunk == nil {
				continue
			}
			if !adapter.Send(ctx, eventChan, adapter.StreamEvent{Chunk: chunk}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			adapter.Send(ctx, eventChan, adapter.StreamEvent{Error: fmt.Errorf("openai: stream: %w", err)})
		}
	}()

	return eventChan, nil
}

// BaseURL returns the normalized endpoint the adapter talks to.
func (a *OpenAIAdapter) BaseURL() string {
	return a.baseURL
}

func buildParams(req openai.ChatCompletionRequest) sdk.ChatCompletionNewParams {
	params := sdk.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = sdk.Int(int64(*req.MaxTokens))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = sdk.Float(*req.FrequencyPenalty)
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = sdk.Float(*req.PresencePenalty)
	}
	return params
}

func convertMessages(msgs []openai.ChatMessage) []sdk.ChatCompletionMessageParamUnion {
	result := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch strings.ToLower(msg.Role) {
		case "system":
			result = append(result, sdk.SystemMessage(msg.Content))
		case "assistant":
			result = append(result, sdk.AssistantMessage(msg.Content))
		default:
			result = append(result, sdk.UserMessage(msg.Content))
		}
	}
	return result
}

func convertChunk(chunk sdk.ChatCompletionChunk) *openai.ChatCompletionChunk {
	if len(chunk.Choices) == 0 {
		return nil
	}
	out := &openai.ChatCompletionChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Model:   chunk.Model,
	}
	for _, choice := range chunk.Choices {
		c := openai.ChatCompletionChunkChoice{
			Index: int(choice.Index),
			Delta: openai.ChatMessageDelta{
				Role:    string(choice.Delta.Role),
				Content: choice.Delta.Content,
			},
		}
		if fr := string(choice.FinishReason); fr != "" {
			c.FinishReason = &fr
		}
		out.Choices = append(out.Choices, c)
	}
	return out
}
