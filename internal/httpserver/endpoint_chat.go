package httpserver

import (
	"net/http"

	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
)

type chatEndpoint struct {
	server *Server
}

func newChatEndpoint(server *Server) protocol.Endpoint {
	return &chatEndpoint{server: server}
}

func (e *chatEndpoint) Name() string { return "chat" }

func (e *chatEndpoint) Routes() []protocol.EndpointRoute {
	handler := http.HandlerFunc(e.server.HandleChat)
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/chat", Handler: handler},
		{Method: http.MethodPost, Path: "/api/chat", Handler: handler},
	}
}
