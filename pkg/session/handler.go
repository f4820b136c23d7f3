package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/txn2/mcp-weather/pkg/jsonrpc"
)

// SessionIDHeader is the MCP session header name.
const SessionIDHeader = "Mcp-Session-Id"

// Client-visible rejection messages.
const (
	msgInvalidSession   = "Invalid session"
	dataInvalidSession  = "Session ID is invalid or has expired."
	msgInvalidRequest   = "Invalid request"
	dataSessionRequired = "Session ID is required for MCP requests."
	msgNoSessionID      = "Bad Request: No valid session ID provided"
	msgExpiredSessionID = "Bad Request: Invalid or expired session ID"
	msgSessionNotFound  = "Session not found"
	msgInternalError    = "Internal error"
	msgMethodNotAllowed = "Method not allowed"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	Manager *Manager

	// Handles builds the transport handle for each new session.
	Handles HandleFactory

	// Owner resolves the authenticated tenant of a request. Empty means the
	// request is anonymous and any session it opens is unowned.
	Owner func(*http.Request) string

	// NewID generates session ids. Defaults to random UUIDs.
	NewID func() string
}

// Router is the per-request session state machine mounted on the MCP
// endpoint. POST opens or resumes a session, GET polls an existing one,
// and DELETE closes one. Every rejection is a JSON-RPC error envelope.
type Router struct {
	manager *Manager
	handles HandleFactory
	owner   func(*http.Request) string
	newID   func() string
}

// NewRouter creates a session router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Owner == nil {
		cfg.Owner = func(*http.Request) string { return "" }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Router{
		manager: cfg.Manager,
		handles: cfg.Handles,
		owner:   cfg.Owner,
		newID:   cfg.NewID,
	}
}

// ServeHTTP dispatches the request by verb.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.handleOpen(w, r)
	case http.MethodGet:
		rt.handlePoll(w, r)
	case http.MethodDelete:
		rt.handleClose(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		jsonrpc.WriteError(w, http.StatusMethodNotAllowed, nil,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgMethodNotAllowed, nil))
	}
}

// handleOpen resumes the session named by the header, or opens a new one
// for an initialize request that carries no header.
func (rt *Router) handleOpen(w http.ResponseWriter, r *http.Request) {
	env, err := jsonrpc.RequestEnvelope(r)
	if err != nil {
		jsonrpc.WriteError(w, http.StatusBadRequest, nil,
			jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "Invalid Request", err.Error()))
		return
	}
	reqID := env.ID()
	owner := rt.owner(r)
	info := clientInfoFromRequest(r)

	if sessionID := r.Header.Get(SessionIDHeader); sessionID != "" {
		_, h, err := rt.manager.GetActiveSession(r.Context(), sessionID, owner, info)
		if err != nil {
			rt.internalError(w, reqID, sessionID, err)
			return
		}
		if h == nil {
			slog.Debug("session: no active session for header", slogKeySessionID, sessionID)
			jsonrpc.WriteError(w, http.StatusBadRequest, reqID,
				jsonrpc.NewError(jsonrpc.CodeSessionError, msgInvalidSession, dataInvalidSession))
			return
		}
		h.ServeHTTP(w, r)
		return
	}

	if !env.IsInitialize() {
		jsonrpc.WriteError(w, http.StatusBadRequest, reqID,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgInvalidRequest, dataSessionRequired))
		return
	}

	rt.openSession(w, r, reqID, owner, info)
}

// openSession creates, registers, and binds a handle under a fresh id, then
// dispatches the initialize request through it.
func (rt *Router) openSession(w http.ResponseWriter, r *http.Request, reqID any, owner string, info *ClientInfo) {
	ctx := r.Context()
	sessionID := rt.newID()

	h, err := rt.handles.NewHandle(ctx, sessionID)
	if err != nil {
		rt.internalError(w, reqID, sessionID, fmt.Errorf("creating handle: %w", err))
		return
	}

	if _, err := rt.manager.CreateSession(ctx, sessionID, h, owner, info); err != nil {
		if cerr := closeHandle(h); cerr != nil {
			slog.Warn("session: discarding handle failed", slogKeySessionID, sessionID, slogKeyError, cerr)
		}
		if errors.Is(err, ErrOwnershipConflict) || errors.Is(err, ErrSessionConflict) {
			jsonrpc.WriteError(w, http.StatusBadRequest, reqID,
				jsonrpc.NewError(jsonrpc.CodeSessionError, msgInvalidSession, dataInvalidSession))
			return
		}
		rt.internalError(w, reqID, sessionID, err)
		return
	}

	if err := h.Bind(ctx); err != nil {
		if _, cerr := rt.manager.CloseSession(ctx, sessionID, owner); cerr != nil {
			slog.Warn("session: closing unbound session failed", slogKeySessionID, sessionID, slogKeyError, cerr)
		}
		rt.internalError(w, reqID, sessionID, fmt.Errorf("binding handle: %w", err))
		return
	}

	slog.Info("session: opened", slogKeySessionID, sessionID, "owner", owner)
	w.Header().Set(SessionIDHeader, sessionID)
	h.ServeHTTP(w, r)
}

// handlePoll continues an existing session.
func (rt *Router) handlePoll(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		jsonrpc.WriteError(w, http.StatusBadRequest, nil,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgNoSessionID, nil))
		return
	}

	_, h, err := rt.manager.GetActiveSession(r.Context(), sessionID, rt.owner(r), clientInfoFromRequest(r))
	if err != nil {
		rt.internalError(w, nil, sessionID, err)
		return
	}
	if h == nil {
		jsonrpc.WriteError(w, http.StatusBadRequest, nil,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgExpiredSessionID, nil))
		return
	}
	h.ServeHTTP(w, r)
}

// handleClose closes an existing session.
func (rt *Router) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		jsonrpc.WriteError(w, http.StatusBadRequest, nil,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgNoSessionID, nil))
		return
	}

	closed, err := rt.manager.CloseSession(r.Context(), sessionID, rt.owner(r))
	if err != nil {
		rt.internalError(w, nil, sessionID, err)
		return
	}
	if !closed {
		jsonrpc.WriteError(w, http.StatusNotFound, nil,
			jsonrpc.NewError(jsonrpc.CodeSessionError, msgSessionNotFound, nil))
		return
	}

	slog.Info("session: closed by client", slogKeySessionID, sessionID)
	jsonrpc.WriteJSON(w, http.StatusOK, closeResponse{
		Message: fmt.Sprintf("Session %s closed successfully", sessionID),
	})
}

func (*Router) internalError(w http.ResponseWriter, reqID any, sessionID string, err error) {
	slog.Error("session: request failed", slogKeySessionID, sessionID, slogKeyError, err)
	jsonrpc.WriteError(w, http.StatusInternalServerError, reqID,
		jsonrpc.NewError(jsonrpc.CodeInternalError, msgInternalError, nil))
}

// closeResponse is the body of a successful DELETE.
type closeResponse struct {
	Message string `json:"message"`
}

// clientInfoFromRequest captures the user agent and the client address,
// preferring the first X-Forwarded-For hop.
func clientInfoFromRequest(r *http.Request) *ClientInfo {
	return &ClientInfo{
		UserAgent: r.UserAgent(),
		IPAddress: clientAddress(r),
	}
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
