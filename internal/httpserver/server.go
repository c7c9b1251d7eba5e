package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/metrics"
	"github.com/tokligence/chatrelay/internal/relay"
)

// DefaultMaxBodyBytes bounds the size of a chat request body.
const DefaultMaxBodyBytes int64 = 4 << 20

var defaultEndpointKeys = []string{"chat", "usage", "health", "metrics"}

// Options configure a Server.
type Options struct {
	Ledger       ledger.Store       // optional, backs the usage endpoints
	Metrics      *metrics.Collector // optional, backs /metrics
	Logger       zerolog.Logger
	Version      string
	MaxBodyBytes int64
	EndpointKeys []string // defaults to chat, usage, health and metrics
}

// Server exposes the relay over HTTP.
type Server struct {
	relay        *relay.Relay
	ledger       ledger.Store
	metrics      *metrics.Collector
	logger       zerolog.Logger
	version      string
	maxBodyBytes int64
	endpointKeys []string
}

// New constructs a Server around rl.
func New(rl *relay.Relay, opts Options) *Server {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Server{
		relay:        rl,
		ledger:       opts.Ledger,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With().Str("component", "http").Logger(),
		version:      opts.Version,
		maxBodyBytes: maxBody,
		endpointKeys: normalizeEndpointKeys(opts.EndpointKeys, defaultEndpointKeys),
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpointKeys(r, s.endpointKeys...)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(requestMetrics(s.metrics))
	r.Use(middleware.Recoverer)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.logger.Debug().Str("endpoint", ep.Name()).Msg("registering endpoint")
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

func (s *Server) registerEndpointKeys(r chi.Router, keys ...string) int {
	var endpoints []protocol.Endpoint
	for _, key := range keys {
		if ep := s.endpointByKey(key); ep != nil {
			endpoints = append(endpoints, ep)
		} else {
			s.logger.Debug().Str("endpoint", key).Msg("endpoint unavailable, skipping registration")
		}
	}
	s.registerEndpoints(r, endpoints...)
	return len(endpoints)
}

func (s *Server) endpointByKey(key string) protocol.Endpoint {
	switch key {
	case "chat":
		return newChatEndpoint(s)
	case "usage":
		return newUsageEndpoint(s)
	case "health", "status":
		return newHealthEndpoint(s)
	case "metrics":
		if s.metrics == nil {
			return nil
		}
		return newMetricsEndpoint(s)
	default:
		return nil
	}
}

func normalizeEndpointKeys(list []string, defaults []string) []string {
	if len(list) == 0 {
		list = defaults
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, key := range list {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
