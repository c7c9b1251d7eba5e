package httpserver

import (
	"net/http"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
)

type metricsEndpoint struct {
	server *Server
}

func newMetricsEndpoint(server *Server) protocol.Endpoint {
	return &metricsEndpoint{server: server}
}

func (e *metricsEndpoint) Name() string { return "metrics" }

func (e *metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: http.HandlerFunc(e.server.HandleMetrics)},
	}
}
