package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// SDKFactory backs sessions and push connections with go-sdk transports,
// each bound to a freshly built protocol server.
type SDKFactory struct {
	NewServer func() *mcpsdk.Server
}

// NewSession implements Factory.
func (f SDKFactory) NewSession(ctx context.Context) (Session, error) {
	t := &mcpsdk.StreamableServerTransport{SessionID: uuid.NewString()}
	ss, err := f.NewServer().Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect session: %w", err)
	}
	return &sdkSession{transport: t, conn: newConn(ss)}, nil
}

// NewPush implements Factory. Connecting writes the endpoint event that
// tells the client where to POST.
func (f SDKFactory) NewPush(ctx context.Context, w http.ResponseWriter, _ *http.Request) (Push, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	t := &mcpsdk.SSEServerTransport{Endpoint: PathMessage, Response: w}
	ss, err := f.NewServer().Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect push transport: %w", err)
	}
	return &sdkPush{transport: t, conn: newConn(ss)}, nil
}

// conn tracks the lifetime of one server session.
type conn struct {
	ss        *mcpsdk.ServerSession
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func newConn(ss *mcpsdk.ServerSession) *conn {
	c := &conn{ss: ss, done: make(chan struct{})}
	go func() {
		_ = ss.Wait()
		close(c.done)
	}()
	return c
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() { c.err = c.ss.Close() })
	return c.err
}

func (c *conn) Done() <-chan struct{} { return c.done }

type sdkSession struct {
	transport *mcpsdk.StreamableServerTransport
	*conn
}

func (s *sdkSession) ID() string { return s.transport.SessionID }

func (s *sdkSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.transport.ServeHTTP(w, r)
}

type sdkPush struct {
	transport *mcpsdk.SSEServerTransport
	*conn
}

func (p *sdkPush) ServeMessage(w http.ResponseWriter, r *http.Request) {
	p.transport.ServeHTTP(w, r)
}
