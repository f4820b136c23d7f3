package jsonrpc

import (
	"net/http"
)

// messageInvalidRequest is the message of every envelope validation failure.
const messageInvalidRequest = "Invalid Request"

// Validate is HTTP middleware that rejects structurally invalid JSON-RPC
// envelopes with 400 / -32600 before any authentication or session work.
// The parsed envelope is stored in the request context and the body is
// restored for downstream handlers.
func Validate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, nil,
				NewError(CodeInvalidRequest, messageInvalidRequest, err.Error()))
			return
		}

		env, err := Parse(body)
		if err != nil {
			WriteError(w, http.StatusBadRequest, nil,
				NewError(CodeInvalidRequest, messageInvalidRequest, ErrMalformedJSON.Error()))
			return
		}

		if problems := env.Problems(); len(problems) > 0 {
			WriteError(w, http.StatusBadRequest, env.ID(),
				NewError(CodeInvalidRequest, messageInvalidRequest, problems))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithEnvelope(r.Context(), env)))
	})
}
