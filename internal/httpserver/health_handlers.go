package httpserver

import (
	"net/http"
	"time"
)

// HandleHealth reports liveness together with the configured model.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"model":   s.relay.Model(),
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"ledger":  s.ledger != nil,
	})
}
