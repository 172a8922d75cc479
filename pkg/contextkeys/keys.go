// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between middleware and handlers are
// keyed here so that producers and consumers agree on names and types.
//
//	ctx = contextkeys.WithUser(ctx, user)
//	user := contextkeys.User(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains the reconciled *identity.User
	// Set by: middleware.AuthMiddleware
	// Required by: every authenticated API endpoint
	UserKey Key = "user"

	// ClaimsKey contains the identity.Claims of a verified bearer token.
	// Absent when the request authenticated with a session.
	ClaimsKey Key = "claims"

	// SessionTokenKey contains the session token string used by the request
	SessionTokenKey Key = "session_token"
)

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// User retrieves the authenticated user, or nil
func User(ctx context.Context) *identity.User {
	user, _ := ctx.Value(UserKey).(*identity.User)
	return user
}

// WithClaims adds verified token claims to the context
func WithClaims(ctx context.Context, claims identity.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// Claims retrieves verified token claims
func Claims(ctx context.Context) (identity.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(identity.Claims)
	return claims, ok
}

// WithSessionToken records the session token that authenticated the request
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, SessionTokenKey, token)
}

// SessionToken retrieves the session token, or ""
func SessionToken(ctx context.Context) string {
	token, _ := ctx.Value(SessionTokenKey).(string)
	return token
}
