// Package chat orchestrates one exchange at a time over a conversation log.
package chat

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tokligence/chatrelay/internal/conversation"
)

var (
	// ErrEmptyInput is returned for blank submissions; the log is not touched.
	ErrEmptyInput = errors.New("chat: empty input")
	// ErrExchangeInFlight is returned when a submission arrives while another is streaming.
	ErrExchangeInFlight = errors.New("chat: exchange already in flight")
	// ErrEmptyReply is returned when the stream completed without any text.
	ErrEmptyReply = errors.New("chat: empty reply")
)

// Streamer performs one exchange against the relay.
type Streamer interface {
	Exchange(ctx context.Context, conv []conversation.Message, onUpdate func(accumulated string)) (string, error)
}

// Session owns the only writes to a conversation log: the user message and
// loading flag before an exchange, the assistant reply and cleared flag after it.
type Session struct {
	log      *conversation.Log
	streamer Streamer
	logger   zerolog.Logger
	inFlight atomic.Bool
}

// NewSession binds a log to a streamer.
func NewSession(log *conversation.Log, streamer Streamer, logger zerolog.Logger) *Session {
	return &Session{
		log:      log,
		streamer: streamer,
		logger:   logger.With().Str("component", "chat").Logger(),
	}
}

// Log returns the conversation the session writes to.
func (s *Session) Log() *conversation.Log {
	return s.log
}

// InFlight reports whether an exchange is currently streaming.
func (s *Session) InFlight() bool {
	return s.inFlight.Load()
}

// Submit sends text as a new user message and streams the reply. onUpdate
// receives the accumulated reply as it grows. The reply is committed to the
// log only when the exchange succeeds with non-empty text; the loading flag is
// cleared on every path.
func (s *Session) Submit(ctx context.Context, text string, onUpdate func(accumulated string)) (conversation.Message, error) {
	if strings.TrimSpace(text) == "" {
		return conversation.Message{}, ErrEmptyInput
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("submission rejected, exchange in flight")
		return conversation.Message{}, ErrExchangeInFlight
	}
	defer s.inFlight.Store(false)

	s.log.Append(conversation.NewMessage(conversation.RoleUser, text))
	s.log.SetLoading(true)
	defer s.log.SetLoading(false)

	reply, err := s.streamer.Exchange(ctx, s.log.Messages(), onUpdate)
	if err != nil {
		s.logger.Error().Err(err).Msg("exchange failed, reply discarded")
		return conversation.Message{}, errors.Wrap(err, "exchange")
	}
	if reply == "" {
		s.logger.Warn().Msg("exchange produced no text")
		return conversation.Message{}, ErrEmptyReply
	}

	msg := conversation.NewMessage(conversation.RoleAssistant, reply)
	s.log.Append(msg)
	return msg, nil
}
