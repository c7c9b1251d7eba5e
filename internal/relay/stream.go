package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/sse"
)

// Outcome describes how a piped stream ended.
type Outcome = ledger.Outcome

const (
	OutcomeCompleted   = ledger.OutcomeCompleted
	OutcomeInterrupted = ledger.OutcomeInterrupted
	OutcomeAborted     = ledger.OutcomeAborted
)

const ledgerWriteTimeout = 5 * time.Second

// Stream is one opened upstream exchange.
type Stream struct {
	relay  *Relay
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	logger zerolog.Logger

	events    <-chan adapter.StreamEvent
	pending   *adapter.StreamEvent
	exhausted bool

	model        string
	started      time.Time
	firstByte    time.Duration
	fragments    int
	promptTokens int
	completion   strings.Builder

	finishOnce sync.Once
}

// ID returns the exchange identifier assigned when the stream was opened.
func (s *Stream) ID() string {
	return s.id
}

// Pipe forwards every non-empty upstream fragment to w as it arrives and ends
// with the terminal marker once the upstream is exhausted. If the upstream
// fails mid-stream, or ctx is cancelled before the upstream is exhausted, an
// error event is written instead of the marker. If w fails, the stream is
// abandoned. Pipe may be called once.
func (s *Stream) Pipe(ctx context.Context, w sse.EventWriter) (outcome Outcome, err error) {
	defer func() { s.finish(outcome, err) }()

	if s.pending != nil {
		ev := *s.pending
		s.pending = nil
		if done, outcome, err := s.forward(w, ev); done {
			return outcome, err
		}
	}

	for !s.exhausted {
		select {
		case ev, ok := <-s.events:
			if !ok {
				// a producer stopped by cancellation is not an exhausted upstream
				if err := s.cancelled(ctx); err != nil {
					return s.abort(w, err)
				}
				s.exhausted = true
				continue
			}
			if done, outcome, err := s.forward(w, ev); done {
				return outcome, err
			}
		case <-ctx.Done():
			return s.abort(w, ctx.Err())
		case <-s.ctx.Done():
			return s.abort(w, s.ctx.Err())
		}
	}

	if err := w.WriteDone(); err != nil {
		return OutcomeAborted, err
	}
	return OutcomeCompleted, nil
}

func (s *Stream) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ctx.Err()
}

// abort ends a cancelled stream with an error event so the consumer never
// mistakes the cut for a finished reply. The write fails if the client is gone.
func (s *Stream) abort(w sse.EventWriter, cause error) (Outcome, error) {
	if werr := w.WriteError(InterruptedMessage); werr != nil {
		s.logger.Debug().Err(werr).Msg("write abort event")
	}
	return OutcomeAborted, cause
}

// forward handles one upstream event. done reports that the stream has ended.
func (s *Stream) forward(w sse.EventWriter, ev adapter.StreamEvent) (done bool, outcome Outcome, err error) {
	if ev.IsError() {
		s.logger.Warn().Err(ev.Error).Int("fragments", s.fragments).Msg("upstream interrupted mid-stream")
		if werr := w.WriteError(InterruptedMessage); werr != nil {
			s.logger.Debug().Err(werr).Msg("write error event")
		}
		return true, OutcomeInterrupted, ev.Error
	}
	text := ev.Text()
	if text == "" {
		return false, "", nil
	}
	if err := w.WriteFragment(text); err != nil {
		return true, OutcomeAborted, err
	}
	if s.fragments == 0 {
		s.firstByte = time.Since(s.started)
	}
	s.fragments++
	s.completion.WriteString(text)
	return false, "", nil
}

// Close abandons the stream without writing anything. It is a no-op after Pipe.
func (s *Stream) Close() {
	s.finish(OutcomeAborted, context.Canceled)
}

func (s *Stream) finish(outcome Outcome, err error) {
	s.finishOnce.Do(func() {
		s.cancel()
		elapsed := time.Since(s.started)

		completionTokens := 0
		if s.relay.counter != nil {
			completionTokens = s.relay.counter.Count(s.completion.String())
		}

		s.span.SetAttributes(
			attribute.String("exchange.outcome", string(outcome)),
			attribute.Int("exchange.fragments", s.fragments),
			attribute.Int("llm.usage.prompt_tokens", s.promptTokens),
			attribute.Int("llm.usage.completion_tokens", completionTokens),
		)
		if outcome == OutcomeInterrupted && err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, InterruptedMessage)
		}
		s.span.End()

		evt := s.logger.Info()
		if outcome != OutcomeCompleted {
			evt = s.logger.Warn().Err(err)
		}
		evt.Str("outcome", string(outcome)).
			Int("fragments", s.fragments).
			Int64("ttfb_ms", s.firstByte.Milliseconds()).
			Int64("total_ms", elapsed.Milliseconds()).
			Msg("exchange finished")

		s.relay.metrics.RecordExchange(metrics.Exchange{
			Model:            s.model,
			Outcome:          string(outcome),
			Fragments:        s.fragments,
			PromptTokens:     s.promptTokens,
			CompletionTokens: completionTokens,
			TTFB:             s.firstByte,
			Duration:         elapsed,
		})

		if s.relay.ledger == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
		defer cancel()
		entry := ledger.Entry{
			ExchangeID:       s.id,
			Model:            s.model,
			PromptTokens:     int64(s.promptTokens),
			CompletionTokens: int64(completionTokens),
			Fragments:        int64(s.fragments),
			Outcome:          outcome,
			DurationMs:       elapsed.Milliseconds(),
			TTFBMs:           s.firstByte.Milliseconds(),
			CreatedAt:        s.started.UTC(),
		}
		if rerr := s.relay.ledger.Record(ctx, entry); rerr != nil {
			s.logger.Error().Err(rerr).Msg("record ledger entry")
		}
	})
}
