// Package sse implements the event-stream framing shared by the relay and the
// stream consumer: one "data: <payload>\n\n" event per fragment, terminated by
// "data: [DONE]\n\n".
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/tokligence/chatrelay/internal/openai"
)

const (
	// DataPrefix starts every event line the relay writes.
	DataPrefix = "data: "
	// DoneMarker is the payload of the terminal event.
	DoneMarker = "[DONE]"
)

// ErrClosed is returned when writing after the terminal event.
var ErrClosed = errors.New("sse: stream already terminated")

// EventWriter is the outbound side of a relay stream.
type EventWriter interface {
	WriteFragment(text string) error
	WriteDone() error
	WriteError(message string) error
}

// Flusher is implemented by writers that buffer, such as http.ResponseWriter.
type Flusher interface {
	Flush()
}

// Writer frames events onto an io.Writer and flushes after every event.
// Once the terminal marker has been written, every further write fails with ErrClosed.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher Flusher
	closed  bool
}

// NewWriter wraps w. Flushing is enabled when w implements Flusher.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteFragment writes one fragment event. Empty fragments are never framed.
func (w *Writer) WriteFragment(text string) error {
	if text == "" {
		return nil
	}
	payload, err := encodePayload(openai.NewFragmentChunk(text))
	if err != nil {
		return err
	}
	return w.writeEvent(payload, false)
}

// WriteDone writes the terminal marker and closes the writer.
func (w *Writer) WriteDone() error {
	return w.writeEvent([]byte(DoneMarker), true)
}

// WriteError reports a broken upstream stream to the consumer and closes the writer.
func (w *Writer) WriteError(message string) error {
	payload, err := encodePayload(openai.StreamErrorEvent{Error: openai.StreamError{Message: message}})
	if err != nil {
		return err
	}
	return w.writeEvent(payload, true)
}

func (w *Writer) writeEvent(payload []byte, final bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	frame := make([]byte, 0, len(DataPrefix)+len(payload)+2)
	frame = append(frame, DataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	if _, err := w.w.Write(frame); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	if final {
		w.closed = true
	}
	return nil
}

// encodePayload marshals v without HTML escaping and without a trailing newline.
func encodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
