package httpserver

import (
	"net/http"
	"strconv"

	"github.com/tokligence/chatrelay/internal/ledger"
)

const defaultRecentLimit = 20

// HandleUsageSummary returns aggregate exchange counts and token usage.
func (s *Server) HandleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"summary": ledger.Summary{}})
		return
	}
	summary, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("ledger summary")
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

// HandleUsageRecent lists the latest exchanges, newest first.
func (s *Server) HandleUsageRecent(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"entries": []ledger.Entry{}})
		return
	}
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.ledger.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("ledger list")
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
