package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/openai"
)

// Ensure LoopbackAdapter implements StreamingChatAdapter.
var _ adapter.StreamingChatAdapter = (*LoopbackAdapter)(nil)

// LoopbackAdapter streams the last user message back to the caller word by word.
// It lets the relay run end to end without upstream credentials.
type LoopbackAdapter struct {
	delay time.Duration
}

// Option customises a LoopbackAdapter.
type Option func(*LoopbackAdapter)

// WithDelay pauses between fragments to imitate a slow upstream.
func WithDelay(d time.Duration) Option {
	return func(a *LoopbackAdapter) { a.delay = d }
}

// New creates a LoopbackAdapter instance.
func New(opts ...Option) *LoopbackAdapter {
	a := &LoopbackAdapter{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CreateCompletionStream fabricates a deterministic stream for exercising the relay pipeline.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("no messages provided")
	}

	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.ToLower(req.Messages[i].Role) == "user" {
			message = req.Messages[i]
			break
		}
	}
	reply := "[loopback] " + strings.TrimSpace(message.Content)

	ch := make(chan adapter.StreamEvent)
	go func() {
		defer close(ch)

		first := &openai.ChatCompletionChunk{
			Model:   req.Model,
			Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{Role: "assistant"}}},
		}
		if !adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: first}) {
			return
		}
		for _, word := range strings.SplitAfter(reply, " ") {
			if word == "" {
				continue
			}
			if a.delay > 0 {
				select {
				case <-time.After(a.delay):
				case <-ctx.Done():
					return
				}
			}
			chunk := openai.NewFragmentChunk(word)
			chunk.Model = req.Model
			if !adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: &chunk}) {
				return
			}
		}
		stop := "stop"
		last := &openai.ChatCompletionChunk{
			Model:   req.Model,
			Choices: []openai.ChatCompletionChunkChoice{{FinishReason: &stop}},
		}
		adapter.Send(ctx, ch, adapter.StreamEvent{Chunk: last})
	}()
	return ch, nil
}
