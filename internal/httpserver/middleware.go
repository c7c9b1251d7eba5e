package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tokligence/chatrelay/internal/metrics"
)

// requestLogger writes one access log line per request once the handler returns.
// For streamed responses the duration covers the whole stream.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				evt := logger.Info()
				if status >= http.StatusInternalServerError {
					evt = logger.Warn()
				}
				evt.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

const unmatchedRoute = "unmatched"

// requestMetrics counts requests per chi route pattern. Unmatched paths are
// grouped under "unmatched" to keep label cardinality bounded.
func requestMetrics(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			route := routePattern(r)
			c.RecordRequestStart(route)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				c.RecordRequestEnd(route, status, time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern resolves the chi pattern r will be routed to before routing runs.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return unmatchedRoute
	}
	if pattern := rctx.Routes.Find(chi.NewRouteContext(), r.Method, r.URL.Path); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}
