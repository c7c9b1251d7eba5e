package sse

import (
	"strings"
	"unicode/utf8"
)

const replacementChar = "\uFFFD"

// Decoder turns raw reads into complete text lines.
//
// A read may end in the middle of a UTF-8 sequence or in the middle of a line.
// Both remainders are carried into the next Feed; nothing is dispatched until
// its terminating newline arrives.
type Decoder struct {
	pending []byte
	line    strings.Builder
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed decodes p and returns every line completed by it, without line terminators.
func (d *Decoder) Feed(p []byte) []string {
	return d.split(d.decode(p))
}

// Flush releases whatever is still buffered once the byte stream has ended.
// An incomplete UTF-8 sequence decodes to U+FFFD; an unterminated line is returned as is.
func (d *Decoder) Flush() []string {
	if len(d.pending) > 0 {
		d.line.WriteString(strings.ToValidUTF8(string(d.pending), replacementChar))
		d.pending = nil
	}
	if d.line.Len() == 0 {
		return nil
	}
	line := strings.TrimSuffix(d.line.String(), "\r")
	d.line.Reset()
	return []string{line}
}

func (d *Decoder) decode(p []byte) string {
	buf := p
	if len(d.pending) > 0 {
		buf = append(d.pending, p...)
		d.pending = nil
	}
	if cut := incompleteSuffix(buf); cut > 0 {
		d.pending = append([]byte(nil), buf[len(buf)-cut:]...)
		buf = buf[:len(buf)-cut]
	}
	return strings.ToValidUTF8(string(buf), replacementChar)
}

func (d *Decoder) split(text string) []string {
	var lines []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			d.line.WriteString(text)
			return lines
		}
		d.line.WriteString(text[:i])
		lines = append(lines, strings.TrimSuffix(d.line.String(), "\r"))
		d.line.Reset()
		text = text[i+1:]
	}
}

// incompleteSuffix returns the length of a truncated multi-byte sequence at the end of b.
func incompleteSuffix(b []byte) int {
	limit := len(b) - utf8.UTFMax
	if limit < 0 {
		limit = 0
	}
	for i := len(b) - 1; i >= limit; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return 0
		}
		return len(b) - i
	}
	return 0
}

// ParseLine extracts the payload of a data line. ok is false for any other line
// (comments, keep-alives, blank separators, unknown fields).
func ParseLine(line string) (payload string, ok bool) {
	const field = "data:"
	if !strings.HasPrefix(line, field) {
		return "", false
	}
	return strings.TrimSpace(line[len(field):]), true
}
