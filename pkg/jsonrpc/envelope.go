package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds how much of a request body is buffered for inspection.
const maxBodyBytes = 4 << 20

// methodInitialize is the MCP method that opens a new session.
const methodInitialize = "initialize"

// ErrMalformedJSON is returned when a request body is not valid JSON.
var ErrMalformedJSON = errors.New("request body is not valid JSON")

type contextKey int

const envelopeContextKey contextKey = iota

// Message is one JSON-RPC message with its members kept raw so that
// presence and type can be checked independently.
type Message struct {
	members map[string]json.RawMessage
}

// Method returns the method name, or empty if absent or not a string.
func (m Message) Method() string {
	var s string
	if raw, ok := m.members["method"]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// ID returns the raw id member, or nil when absent.
func (m Message) ID() json.RawMessage {
	return m.members["id"]
}

// Envelope is a parsed request body: a single message or a batch.
type Envelope struct {
	Messages []Message
	Batch    bool
}

// Empty reports whether the request carried no messages.
func (e *Envelope) Empty() bool {
	return e == nil || len(e.Messages) == 0
}

// ID returns the id to echo in error responses: the id of the first
// message of a single request, or nil.
func (e *Envelope) ID() any {
	if e.Empty() || e.Batch {
		return nil
	}
	if id := e.Messages[0].ID(); len(id) > 0 {
		return id
	}
	return nil
}

// IsInitialize reports whether the envelope is a single initialize request.
func (e *Envelope) IsInitialize() bool {
	if e.Empty() || e.Batch || len(e.Messages) != 1 {
		return false
	}
	m := e.Messages[0]
	return m.Method() == methodInitialize && len(m.ID()) > 0
}

// Parse decodes a request body. An empty body yields an empty envelope.
func Parse(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Envelope{}, nil
	}

	if trimmed[0] == '[' {
		var batch []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
		}
		env := &Envelope{Batch: true, Messages: make([]Message, 0, len(batch))}
		for _, members := range batch {
			env.Messages = append(env.Messages, Message{members: members})
		}
		return env, nil
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
	}
	return &Envelope{Messages: []Message{{members: members}}}, nil
}

// Problems returns the structural violations of every message in the
// envelope. An empty result means the envelope is well formed.
func (e *Envelope) Problems() []string {
	if e == nil {
		return nil
	}
	var problems []string
	for i, m := range e.Messages {
		prefix := ""
		if e.Batch {
			prefix = fmt.Sprintf("message %d: ", i)
		}
		if m.members == nil {
			problems = append(problems, prefix+"message must be an object")
			continue
		}
		if raw, ok := m.members["jsonrpc"]; ok {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil || v != Version {
				problems = append(problems, prefix+`jsonrpc must be "2.0"`)
			}
		}
		if raw, ok := m.members["method"]; ok {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil || v == "" {
				problems = append(problems, prefix+"method must be a non-empty string")
			}
		}
		if raw, ok := m.members["id"]; ok && !validID(raw) {
			problems = append(problems, prefix+"id must be a number or string")
		}
	}
	return problems
}

func validID(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case '"':
		var s string
		return json.Unmarshal(raw, &s) == nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		return json.Unmarshal(raw, &n) == nil
	default:
		return false
	}
}

// WithEnvelope stores a parsed envelope in the context.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	return context.WithValue(ctx, envelopeContextKey, env)
}

// FromContext returns the envelope stored by Validate, or nil.
func FromContext(ctx context.Context) *Envelope {
	if env, ok := ctx.Value(envelopeContextKey).(*Envelope); ok {
		return env
	}
	return nil
}

// RequestEnvelope returns the envelope for r, parsing and restoring the
// body when no validation middleware ran before.
func RequestEnvelope(r *http.Request) (*Envelope, error) {
	if env := FromContext(r.Context()); env != nil {
		return env, nil
	}
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// readBody buffers the request body and replaces it with a rewindable copy.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	_ = r.Body.Close()
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
