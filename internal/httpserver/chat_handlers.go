package httpserver

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatrelay/internal/relay"
	"github.com/tokligence/chatrelay/internal/sse"
)

// HandleChat relays one conversation as an event stream. Failures before the
// first fragment are answered with 500 and a JSON error; once the stream has
// started the status is always 200.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("read chat request")
		s.respondError(w, http.StatusInternalServerError, relay.ErrRequestMalformed)
		return
	}

	conv, err := relay.ParseConversation(body)
	if err != nil {
		logger.Warn().Err(err).Msg("parse chat request")
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	stream, err := s.relay.Open(r.Context(), conv)
	if err != nil {
		// the relay has logged the cause; upstream details are not echoed to the client
		logger.Debug().Err(err).Msg("open stream")
		s.respondError(w, http.StatusInternalServerError, relay.ErrUpstreamUnavailable)
		return
	}
	defer stream.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Exchange-ID", stream.ID())
	w.WriteHeader(http.StatusOK)

	outcome, err := stream.Pipe(r.Context(), sse.NewWriter(w))
	logger.Debug().Err(err).Str("exchange_id", stream.ID()).Str("outcome", string(outcome)).Msg("stream closed")
}
