// Package mcptransport binds session handles to the MCP Streamable HTTP
// transport of the go-sdk.
package mcptransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-weather/pkg/session"
)

var (
	// ErrAlreadyBound is returned when Bind is called more than once.
	ErrAlreadyBound = errors.New("handle already bound")

	// ErrHandleClosed is returned when binding a handle that was closed.
	ErrHandleClosed = errors.New("handle closed")
)

// Handle is a session.Handle backed by one StreamableServerTransport and
// the ServerSession connected over it.
type Handle struct {
	id        string
	server    *mcp.Server
	transport *mcp.StreamableServerTransport

	mu     sync.Mutex
	ss     *mcp.ServerSession
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewHandle creates an unbound handle for sessionID served by server.
func NewHandle(server *mcp.Server, sessionID string) *Handle {
	return &Handle{
		id:        sessionID,
		server:    server,
		transport: &mcp.StreamableServerTransport{SessionID: sessionID},
		done:      make(chan struct{}),
	}
}

// ID returns the session id the transport was created for.
func (h *Handle) ID() string {
	return h.id
}

// ServeHTTP dispatches a request to the underlying transport.
func (h *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.transport.ServeHTTP(w, r)
}

// Bind connects the MCP server to the transport. The connection outlives
// the request that created it, so ctx cancellation is not propagated.
func (h *Handle) Bind(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	if h.ss != nil {
		return ErrAlreadyBound
	}

	ss, err := h.server.Connect(context.WithoutCancel(ctx), h.transport, nil)
	if err != nil {
		return fmt.Errorf("connecting mcp session %s: %w", h.id, err)
	}
	h.ss = ss

	go func() {
		if err := ss.Wait(); err != nil {
			slog.Debug("mcp session ended", "session_id", h.id, "error", err)
		}
		h.markDone()
	}()
	return nil
}

// Close terminates the server session. It is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ss := h.ss
	h.mu.Unlock()

	if ss == nil {
		h.markDone()
		return nil
	}
	if err := ss.Close(); err != nil {
		return fmt.Errorf("closing mcp session %s: %w", h.id, err)
	}
	return nil
}

// Done is closed once the server session has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) markDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Factory creates handles served by one shared MCP server.
type Factory struct {
	server *mcp.Server
}

// NewFactory creates a handle factory for server.
func NewFactory(server *mcp.Server) *Factory {
	return &Factory{server: server}
}

// NewHandle implements session.HandleFactory.
func (f *Factory) NewHandle(_ context.Context, sessionID string) (session.Handle, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidSessionID
	}
	return NewHandle(f.server, sessionID), nil
}

var (
	_ session.Handle        = (*Handle)(nil)
	_ session.HandleFactory = (*Factory)(nil)
)
