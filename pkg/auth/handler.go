package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/mcp-weather/pkg/jsonrpc"
	"github.com/txn2/mcp-weather/pkg/metrics"
)

// maxTokenRequestBytes bounds the body of a token request.
const maxTokenRequestBytes = 64 << 10

// TokenRequest is the body of a token exchange.
type TokenRequest struct {
	Email  string `json:"email"`
	APIKey string `json:"apiKey"`
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Authenticate(ctx context.Context, email, apiKey string) (*TokenResponse, error)
}

// TokenHandler serves the credential exchange endpoint.
func TokenHandler(a Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeTokenFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req TokenRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes))
		if err := dec.Decode(&req); err != nil {
			writeTokenFailure(w, http.StatusBadRequest, "Request body must be a JSON object with email and apiKey")
			return
		}

		resp, err := a.Authenticate(r.Context(), req.Email, req.APIKey)
		switch {
		case err == nil:
			jsonrpc.WriteJSON(w, http.StatusOK, resp)
		case errors.Is(err, ErrMissingCredentials):
			metrics.AuthFailures.WithLabelValues("missing").Inc()
			writeTokenFailure(w, http.StatusBadRequest, "Email and API key are required")
		case errors.Is(err, ErrInvalidCredentials):
			metrics.AuthFailures.WithLabelValues("credentials").Inc()
			writeTokenFailure(w, http.StatusUnauthorized, "Invalid email or API key")
		default:
			slog.Error("token exchange failed", "error", err)
			writeTokenFailure(w, http.StatusInternalServerError, "Authentication failed")
		}
	})
}

func writeTokenFailure(w http.ResponseWriter, status int, message string) {
	jsonrpc.WriteJSON(w, status, TokenResponse{Success: false, Message: message})
}
