package adapter

import (
	"context"

	"github.com/tokligence/chatrelay/internal/openai"
)

// StreamingChatAdapter requests incremental generation from an upstream provider.
//
// The returned channel yields chunks in arrival order and is closed when the
// upstream stream is exhausted. A failure is delivered as a final event with
// Error set. Implementations stop producing when ctx is cancelled.
type StreamingChatAdapter interface {
	CreateCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (<-chan StreamEvent, error)
}

// StreamEvent represents a single event in a streaming response.
type StreamEvent struct {
	Chunk *openai.ChatCompletionChunk
	Error error
}

// IsError checks if this event contains an error.
func (e StreamEvent) IsError() bool {
	return e.Error != nil
}

// Text returns the delta content carried by the event, if any.
func (e StreamEvent) Text() string {
	if e.Chunk == nil {
		return ""
	}
	return e.Chunk.GetDelta().Content
}

// Send delivers ev on ch unless ctx is done first. It reports whether ev was delivered.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
