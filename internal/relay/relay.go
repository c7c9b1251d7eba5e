// Package relay turns a conversation into an upstream streaming request and
// re-frames the upstream chunks as a normalized event stream.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/conversation"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/openai"
	"github.com/tokligence/chatrelay/internal/tokencount"
)

var (
	// ErrRequestMalformed means the request body is not a conversation.
	ErrRequestMalformed = errors.New("relay: request malformed")
	// ErrUpstreamUnavailable means the upstream failed before the first fragment.
	ErrUpstreamUnavailable = errors.New("relay: upstream unavailable")
)

// DefaultSystemDirective is prepended to every upstream request unless configured otherwise.
const DefaultSystemDirective = "You are a direct and precise assistant. Always provide factual, straightforward answers without speculation or creativity. Stick strictly to what is asked."

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// InterruptedMessage is the error event body sent when the upstream breaks mid-stream.
const InterruptedMessage = "upstream stream interrupted"

// DecodingParams are fixed per deployment and never taken from the client.
type DecodingParams struct {
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	MaxTokens        int     `yaml:"max_tokens"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
}

// DefaultDecodingParams returns deterministic decoding settings.
func DefaultDecodingParams() DecodingParams {
	return DecodingParams{
		Temperature:      0,
		TopP:             1,
		MaxTokens:        4096,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	}
}

// Options configure a Relay.
type Options struct {
	SystemDirective string
	Model           string
	Decoding        DecodingParams      // DefaultDecodingParams when MaxTokens is unset
	Ledger          ledger.Store        // optional
	Counter         *tokencount.Counter // optional, token counts are zero without it
	Metrics         *metrics.Collector  // optional
	Logger          zerolog.Logger
	Tracer          trace.Tracer // optional, defaults to the global provider
}

// Relay submits conversations upstream. It holds no per-request state.
type Relay struct {
	adapter   adapter.StreamingChatAdapter
	directive string
	model     string
	decoding  DecodingParams
	ledger    ledger.Store
	counter   *tokencount.Counter
	metrics   *metrics.Collector
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// New creates a Relay over the given upstream adapter.
func New(a adapter.StreamingChatAdapter, opts Options) *Relay {
	directive := strings.TrimSpace(opts.SystemDirective)
	if directive == "" {
		directive = DefaultSystemDirective
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	decoding := opts.Decoding
	if decoding.MaxTokens <= 0 {
		decoding = DefaultDecodingParams()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/tokligence/chatrelay/internal/relay")
	}
	return &Relay{
		adapter:   a,
		directive: directive,
		model:     model,
		decoding:  decoding,
		ledger:    opts.Ledger,
		counter:   opts.Counter,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("component", "relay").Logger(),
		tracer:    tracer,
	}
}

// Model returns the upstream model identifier requests are sent with.
func (r *Relay) Model() string {
	return r.model
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// ParseConversation decodes a {"messages":[...]} request body.
// The messages array must be present and every role must be known.
func ParseConversation(body []byte) ([]conversation.Message, error) {
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestMalformed, err)
	}
	if req.Messages == nil {
		return nil, fmt.Errorf("%w: messages array required", ErrRequestMalformed)
	}
	conv := make([]conversation.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		role, err := conversation.ParseRole(m.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrRequestMalformed, i, err)
		}
		conv = append(conv, conversation.NewMessage(role, m.Content))
	}
	return conv, nil
}

// BuildRequest prepends the system directive to conv and applies the
// deployment's model and decoding parameters.
func (r *Relay) BuildRequest(conv []conversation.Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatMessage, 0, len(conv)+1)
	msgs = append(msgs, openai.ChatMessage{Role: string(conversation.RoleSystem), Content: r.directive})
	for _, m := range conv {
		msgs = append(msgs, openai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	d := r.decoding
	return openai.ChatCompletionRequest{
		Model:            r.model,
		Messages:         msgs,
		Stream:           true,
		Temperature:      &d.Temperature,
		TopP:             &d.TopP,
		MaxTokens:        &d.MaxTokens,
		FrequencyPenalty: &d.FrequencyPenalty,
		PresencePenalty:  &d.PresencePenalty,
	}
}

// Open submits conv upstream and waits for the first fragment. If the upstream
// fails before producing one, Open returns ErrUpstreamUnavailable
// and no stream exists. The returned Stream must be drained with Pipe or released with Close.
func (r *Relay) Open(ctx context.Context, conv []conversation.Message) (*Stream, error) {
	start := time.Now()
	id := uuid.NewString()
	req := r.BuildRequest(conv)
	logger := r.logger.With().Str("exchange_id", id).Str("model", req.Model).Logger()

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := r.tracer.Start(ctx, "relay.exchange", trace.WithAttributes(
		attribute.String("exchange.id", id),
		attribute.String("llm.model", req.Model),
		attribute.Int("conversation.messages", len(conv)),
	))

	fail := func(err error) (*Stream, error) {
		logger.Error().Err(err).Msg("upstream unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unavailable")
		span.End()
		cancel()
		r.metrics.RecordUpstreamFailure(req.Model)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	events, err := r.adapter.CreateCompletionStream(ctx, req)
	if err != nil {
		return fail(err)
	}

	s := &Stream{
		relay:   r,
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		logger:  logger,
		events:  events,
		model:   req.Model,
		started: start,
	}
	if r.counter != nil {
		s.promptTokens = r.counter.CountMessages(req.Messages)
	}

	// events without text produce nothing downstream, so priming skips them
	for s.pending == nil && !s.exhausted {
		select {
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return fail(err)
				}
				// upstream produced no text at all; Pipe only writes the terminal marker
				s.exhausted = true
				continue
			}
			if ev.IsError() {
				return fail(ev.Error)
			}
			if ev.Text() != "" {
				s.pending = &ev
			}
		case <-ctx.Done():
			return fail(ctx.Err())
		}
	}

	logger.Debug().Dur("prime", time.Since(start)).Msg("stream opened")
	return s, nil
}
