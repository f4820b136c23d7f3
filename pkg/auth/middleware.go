package auth

import (
	"net/http"
	"strings"

	"github.com/txn2/mcp-weather/pkg/jsonrpc"
	"github.com/txn2/mcp-weather/pkg/metrics"
)

const (
	bearerPrefix = "bearer "

	msgUnauthorized  = "Unauthorized"
	dataMissingToken = "Missing authentication token"
	dataInvalidToken = "Invalid or expired token"
)

// TokenVerifier verifies identity tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*Identity, error)
}

// Middleware requires a valid identity token on every request and stores
// the verified identity in the request context. Failures are answered with
// 401 and a -32001 error envelope.
func Middleware(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				metrics.AuthFailures.WithLabelValues("missing").Inc()
				unauthorized(w, r, dataMissingToken)
				return
			}

			id, err := v.VerifyToken(token)
			if err != nil {
				metrics.AuthFailures.WithLabelValues("invalid").Inc()
				unauthorized(w, r, dataInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, data string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	jsonrpc.WriteError(w, http.StatusUnauthorized, jsonrpc.FromContext(r.Context()).ID(),
		jsonrpc.NewError(jsonrpc.CodeAuthError, msgUnauthorized, data))
}

// extractToken reads the Authorization header. Both "Bearer <token>" and a
// bare token are accepted.
func extractToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.EqualFold(h, strings.TrimSpace(bearerPrefix)) {
		return ""
	}
	if len(h) >= len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return h
}
