package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
)

type IPv4Server struct {
	URL       string
	listener  net.Listener
	server    *http.Server
	transport *http.Transport
	client    *http.Client
}

// NewIPv4Server starts an HTTP server bound to the IPv4 loopback interface.
// The server is shut down automatically when the test finishes.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	return NewIPv4ServerWithBase(t, handler, nil)
}

// NewIPv4ServerWithBase is NewIPv4Server with every request context derived
// from base, so cancelling base cancels all in-flight requests.
func NewIPv4ServerWithBase(t *testing.T, handler http.Handler, base context.Context) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	transport := &http.Transport{}
	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		listener:  l,
		server:    &http.Server{Handler: handler},
		transport: transport,
		client:    &http.Client{Transport: transport},
	}
	if base != nil {
		s.server.BaseContext = func(net.Listener) context.Context { return base }
	}
	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("IPv4Server serve error: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client configured for the server.
func (s *IPv4Server) Client() *http.Client {
	return s.client
}

// Close shuts down the underlying server and frees resources. Safe to call twice.
func (s *IPv4Server) Close() {
	_ = s.server.Shutdown(context.Background())
	s.transport.CloseIdleConnections()
}

// WriteSSE writes each payload as a "data:" event and flushes after every one.
func WriteSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
		if flusher != nil {
			flusher.Flush()
		}
	}
}
