package httpserver

import (
	"net/http"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
)

type usageEndpoint struct {
	server *Server
}

func newUsageEndpoint(server *Server) protocol.Endpoint {
	return &usageEndpoint{server: server}
}

func (e *usageEndpoint) Name() string { return "usage" }

func (e *usageEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/usage/summary", Handler: http.HandlerFunc(e.server.HandleUsageSummary)},
		{Method: http.MethodGet, Path: "/usage/recent", Handler: http.HandlerFunc(e.server.HandleUsageRecent)},
	}
}
