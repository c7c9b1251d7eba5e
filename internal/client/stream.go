package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/tokligence/chatrelay/internal/conversation"
	"github.com/tokligence/chatrelay/internal/openai"
	"github.com/tokligence/chatrelay/internal/sse"
)

type chatRequest struct {
	Messages []conversation.Message `json:"messages"`
}

// eventPayload is either a fragment envelope or an error report.
type eventPayload struct {
	Choices []openai.ChatCompletionChunkChoice `json:"choices"`
	Error   *openai.StreamError                `json:"error,omitempty"`
}

// Exchange posts conv to the relay and accumulates the streamed reply.
// onUpdate, when set, receives the full accumulated text after every
// non-empty fragment. On failure the partial text is dropped and "" is returned.
func (c *ChatClient) Exchange(ctx context.Context, conv []conversation.Message, onUpdate func(accumulated string)) (string, error) {
	if conv == nil {
		conv = []conversation.Message{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "chat", chatRequest{Messages: conv})
	if err != nil {
		return "", errors.Wrap(err, "build chat request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("chat request")
		return "", errors.Wrapf(ErrRequestFailed, "send: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp)
		c.logger.Error().Err(err).Msg("chat request rejected")
		return "", err
	}
	return c.ReadStream(resp.Body, onUpdate)
}

// ReadStream decodes an event stream from r. Reads are sequential and
// onUpdate runs inline between them. Reaching EOF without the terminal
// marker counts as success.
func (c *ChatClient) ReadStream(r io.Reader, onUpdate func(accumulated string)) (string, error) {
	dec := sse.NewDecoder()
	var acc strings.Builder
	buf := make([]byte, c.readSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			done, err := c.dispatch(dec.Feed(buf[:n]), &acc, onUpdate)
			if err != nil {
				return "", err
			}
			if done {
				return acc.String(), nil
			}
		}
		if readErr == io.EOF {
			if _, err := c.dispatch(dec.Flush(), &acc, onUpdate); err != nil {
				return "", err
			}
			return acc.String(), nil
		}
		if readErr != nil {
			c.logger.Error().Err(readErr).Int("accumulated", acc.Len()).Msg("stream read failed")
			return "", errors.Wrapf(ErrTransportInterrupted, "read: %v", readErr)
		}
	}
}

// dispatch handles complete lines in order. done reports that the terminal marker was seen.
func (c *ChatClient) dispatch(lines []string, acc *strings.Builder, onUpdate func(string)) (done bool, err error) {
	for _, line := range lines {
		payload, ok := sse.ParseLine(line)
		if !ok || payload == "" {
			continue
		}
		if payload == sse.DoneMarker {
			return true, nil
		}
		var ev eventPayload
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			c.logger.Warn().
				Err(errors.Wrap(ErrFragmentParse, err.Error())).
				Str("payload", preview(payload, 128)).
				Msg("skipping fragment")
			continue
		}
		if ev.Error != nil {
			err := errors.Wrap(ErrUpstreamInterrupted, ev.Error.Message)
			c.logger.Error().Err(err).Int("accumulated", acc.Len()).Msg("relay reported failure")
			return false, err
		}
		if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
			continue
		}
		acc.WriteString(ev.Choices[0].Delta.Content)
		if onUpdate != nil {
			onUpdate(acc.String())
		}
	}
	return false, nil
}

// preview shortens s to at most n bytes for logging without splitting a rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
