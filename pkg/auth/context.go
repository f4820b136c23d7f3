// Package auth authenticates tenants by email and API key, issues and
// verifies signed identity tokens, and gates HTTP endpoints on them.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	identityContextKey contextKey = iota
)

// Identity is the authenticated principal of a request.
type Identity struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
}

// WithIdentity adds an identity to the context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// GetIdentity retrieves the identity from the context.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return id
	}
	return nil
}

// TenantID returns the authenticated tenant of r, or empty when anonymous.
func TenantID(r *http.Request) string {
	if id := GetIdentity(r.Context()); id != nil {
		return id.TenantID
	}
	return ""
}
