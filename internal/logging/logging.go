// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultMaxBytes is the size at which a log file rolls over within a day.
const DefaultMaxBytes int64 = 50 << 20

// Config controls where and how verbosely the logger writes.
type Config struct {
	Level    string
	File     string // optional, mirrored with Output
	MaxBytes int64
	Output   io.Writer // defaults to os.Stdout
	Service  string
}

// New returns the root logger and a closer for the log file, if any.
// Output attached to a terminal gets the human readable console format.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
		if err != nil {
			return zerolog.Nop(), nopCloser{}, errors.Wrapf(err, "logging: level %q", cfg.Level)
		}
		level = parsed
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if isTerminal(out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	var closer io.Closer = nopCloser{}
	if strings.TrimSpace(cfg.File) != "" {
		maxBytes := cfg.MaxBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxBytes
		}
		fw, err := NewRotatingWriter(cfg.File, maxBytes)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		out = zerolog.MultiLevelWriter(out, fw)
		closer = fw
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger(), closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
