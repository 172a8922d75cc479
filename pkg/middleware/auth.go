package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/usersync/pkg/contextkeys"
	"github.com/platinummonkey/usersync/pkg/httputil"
	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
	"github.com/platinummonkey/usersync/pkg/session"
)

// SessionHeader carries a session token in place of a bearer token
const SessionHeader = "X-Session-Token"

// TokenVerifier validates a raw bearer token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (identity.Claims, error)
}

// Reconciler turns verified claims into the local user record
type Reconciler interface {
	Reconcile(ctx context.Context, claims identity.Claims) (*identity.User, error)
}

// SessionLookup resolves session tokens
type SessionLookup interface {
	Get(ctx context.Context, token string) (*session.Session, error)
}

// UserFinder loads users referenced by a session
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*identity.User, error)
}

// AuthMiddleware authenticates requests with a bearer token, reconciling
// the token's identity into the local store on every request, or with a
// session token issued earlier.
type AuthMiddleware struct {
	verifier   TokenVerifier
	reconciler Reconciler
	sessions   SessionLookup
	users      UserFinder
	logger     *observability.Logger
	optional   bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. sessions and
// users may be nil, which disables session authentication.
func NewAuthMiddleware(verifier TokenVerifier, reconciler Reconciler, sessions SessionLookup, users UserFinder, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		verifier:   verifier,
		reconciler: reconciler,
		sessions:   sessions,
		users:      users,
		logger:     logger.WithField("component", "auth"),
	}
}

// Optional returns a copy of the middleware that lets unauthenticated
// requests through
func (m *AuthMiddleware) Optional() *AuthMiddleware {
	c := *m
	c.optional = true
	return &c
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if token := r.Header.Get(SessionHeader); token != "" && m.sessions != nil {
			user, err := m.fromSession(ctx, token)
			if err != nil {
				m.logger.WithError(err).Debug("session rejected")
				httputil.WriteUnauthorized(w, "invalid or expired session")
				return
			}
			ctx = contextkeys.WithSessionToken(ctx, token)
			m.serve(w, r.WithContext(ctx), next, user)
			return
		}

		raw, ok := httputil.BearerToken(r)
		if !ok {
			if r.Header.Get("Authorization") == "" && m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing or malformed bearer token")
			return
		}

		claims, err := m.verifier.Verify(ctx, raw)
		if err != nil {
			m.logger.WithError(err).Debug("token rejected")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		// Any reconciliation failure fails authentication
		user, err := m.reconciler.Reconcile(ctx, claims)
		if err != nil {
			m.logger.WithFields(map[string]interface{}{
				"username": claims.Username,
				"error":    err.Error(),
			}).Warn("reconciliation failed during authentication")
			httputil.WriteUnauthorized(w, "authentication failed")
			return
		}

		ctx = contextkeys.WithClaims(ctx, claims)
		m.serve(w, r.WithContext(ctx), next, user)
	})
}

func (m *AuthMiddleware) fromSession(ctx context.Context, token string) (*identity.User, error) {
	sess, err := m.sessions.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	return m.users.FindByID(ctx, sess.UserID)
}

func (m *AuthMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler, user *identity.User) {
	ctx := contextkeys.WithUser(r.Context(), user)
	ctx = observability.WithUserID(ctx, user.ID)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// GetUser returns the authenticated user of the request, or nil
func GetUser(r *http.Request) *identity.User {
	return contextkeys.User(r.Context())
}

// RequireUserType rejects authenticated users whose type is not listed
func RequireUserType(types ...identity.UserType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r)
			if user == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			for _, t := range types {
				if user.UserType == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteForbidden(w, "insufficient permissions")
		})
	}
}

// RequireAdmin allows only ADMIN users
func RequireAdmin(next http.Handler) http.Handler {
	return RequireUserType(identity.UserTypeAdmin)(next)
}
