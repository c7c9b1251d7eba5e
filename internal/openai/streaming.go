package openai

// ChatCompletionChunk represents a chunk in an SSE streaming response.
//
// Every identity field is optional so that the relay's normalized fragment
// serializes to exactly {"choices":[{"delta":{"content":"..."}}]}.
type ChatCompletionChunk struct {
	ID      string                      `json:"id,omitempty"`
	Object  string                      `json:"object,omitempty"`
	Created int64                       `json:"created,omitempty"`
	Model   string                      `json:"model,omitempty"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Index        int              `json:"index,omitempty"`
	Delta        ChatMessageDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// StreamError is the body of an error event written when a stream breaks after it started.
type StreamError struct {
	Message string `json:"message"`
}

// StreamErrorEvent wraps StreamError the way OpenAI-compatible servers report errors.
type StreamErrorEvent struct {
	Error StreamError `json:"error"`
}

// NewFragmentChunk builds the normalized envelope carrying one fragment of text.
func NewFragmentChunk(text string) ChatCompletionChunk {
	return ChatCompletionChunk{
		Choices: []ChatCompletionChunkChoice{{
			Delta: ChatMessageDelta{Content: text},
		}},
	}
}

// GetDelta returns the first choice's delta, or an empty delta when there is none.
func (c *ChatCompletionChunk) GetDelta() ChatMessageDelta {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta
	}
	return ChatMessageDelta{}
}

// GetFinishReason returns the first choice's finish reason, if any.
func (c *ChatCompletionChunk) GetFinishReason() *string {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason
	}
	return nil
}
