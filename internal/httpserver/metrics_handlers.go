package httpserver

import (
	"io"
	"net/http"

	"github.com/tokligence/chatrelay/internal/metrics"
)

// HandleMetrics serves the collector in Prometheus text format.
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", metrics.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, metrics.FormatPrometheus(s.metrics.GetSnapshot()))
}
