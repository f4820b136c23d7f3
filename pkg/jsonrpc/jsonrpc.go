// Package jsonrpc provides the JSON-RPC 2.0 error envelope used on every
// rejection path of the MCP endpoint, plus structural validation of inbound
// request envelopes.
package jsonrpc

import (
	"encoding/json"
	"net/http"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Error codes used by the server.
const (
	// CodeSessionError is a generic session or request error.
	CodeSessionError = -32000
	// CodeAuthError signals missing or invalid credentials.
	CodeAuthError = -32001
	// CodeRateLimited signals that the caller exceeded its request budget.
	CodeRateLimited = -32029
	// CodeInvalidRequest signals a malformed envelope.
	CodeInvalidRequest = -32600
	// CodeInternalError signals a server-side failure.
	CodeInternalError = -32603
)

// Error is the error member of a JSON-RPC response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is a JSON-RPC error response. ID echoes the request id or is null.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Error   *Error `json:"error"`
	ID      any    `json:"id"`
}

// NewError builds an Error with optional data.
func NewError(code int, message string, data any) Error {
	return Error{Code: code, Message: message, Data: data}
}

// WriteError writes a JSON-RPC error envelope with the given HTTP status.
// A nil or empty id is encoded as null.
func WriteError(w http.ResponseWriter, status int, id any, e Error) {
	if raw, ok := id.(json.RawMessage); ok && len(raw) == 0 {
		id = nil
	}
	WriteJSON(w, status, Response{
		JSONRPC: Version,
		Error:   &e,
		ID:      id,
	})
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
