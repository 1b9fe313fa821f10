// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the calling agent via context

package auth

import (
	"context"
)

// AuthContext holds the authenticated agent extracted from a request.
type AuthContext struct {
	AgentID string
	Name    string
	Admin   bool
}

// IsAdmin returns true if the agent may use privileged endpoints.
func (a *AuthContext) IsAdmin() bool {
	return a != nil && a.Admin
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
