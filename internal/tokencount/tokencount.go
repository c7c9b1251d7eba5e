// Package tokencount estimates prompt and completion token usage for the ledger.
package tokencount

import (
	"github.com/tiktoken-go/tokenizer"

	"github.com/tokligence/chatrelay/internal/openai"
)

// per-message framing overhead used by OpenAI chat models
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// Counter counts tokens with the model's BPE codec, falling back to a
// four-characters-per-token estimate when no codec is available.
type Counter struct {
	codec tokenizer.Codec
}

// New returns a Counter for model. Unknown models use cl100k_base.
func New(model string) *Counter {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return &Counter{}
		}
	}
	return &Counter{codec: codec}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

// CountMessages returns the prompt size of msgs including per-message framing.
func (c *Counter) CountMessages(msgs []openai.ChatMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage + c.Count(m.Role) + c.Count(m.Content)
	}
	return total
}

func estimate(text string) int {
	return (len(text) + 3) / 4
}
