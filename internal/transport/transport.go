// Package transport serves the MCP endpoint over HTTP. One listener hosts
// two transport shapes: session-keyed streamable HTTP on /mcp and a single
// legacy SSE push connection on /sse with its /message side channel.
package transport

import (
	"context"
	"net/http"
)

// HTTP surface.
const (
	PathMCP     = "/mcp"
	PathSSE     = "/sse"
	PathMessage = "/message"
	PathHealth  = "/healthz"

	// SessionHeader carries the session id on /mcp requests.
	SessionHeader = "Mcp-Session-Id"
)

// Session is one streamable-HTTP conversation bound to its own protocol
// server. Its id is assigned when the session is created.
type Session interface {
	ID() string
	// ServeHTTP handles one request addressed to the session.
	ServeHTTP(w http.ResponseWriter, r *http.Request)
	Close() error
	// Done is closed once the session has ended for any reason.
	Done() <-chan struct{}
}

// Push is one live SSE connection. Creating it writes the stream preamble
// to the GET response; the stream stays open until Close or disconnect.
type Push interface {
	// ServeMessage handles a client POST correlated to this connection.
	ServeMessage(w http.ResponseWriter, r *http.Request)
	Close() error
	Done() <-chan struct{}
}

// Factory creates transports bound to fresh protocol servers.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
	NewPush(ctx context.Context, w http.ResponseWriter, r *http.Request) (Push, error)
}
