package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/usersync/pkg/contextkeys"
	"github.com/platinummonkey/usersync/pkg/httputil"
	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/middleware"
	"github.com/platinummonkey/usersync/pkg/reconcile"
)

// SessionResponse is returned when a session is issued
type SessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *identity.User `json:"user"`
}

// getProfile handles GET /api/auth/profile. The middleware has already
// reconciled the caller, so the user in context is current.
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.GetUser(r))
}

// updateProfile handles PUT /api/auth/profile
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update reconcile.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	user, err := s.users.UpdateProfile(r.Context(), middleware.GetUser(r).ID, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// createSession handles POST /api/auth/session. Issuing a new session
// revokes the caller's previous one.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(r)

	sess, err := s.sessions.Create(ctx, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	updated, err := s.users.SetLoggedIn(ctx, user, true)
	if err != nil {
		// The session is usable; the flag catches up on the next login
		s.log(r).WithError(err).WithField("username", user.Username).Warn("failed to mark user logged in")
		updated = user
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}

	httputil.WriteCreated(w, SessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      updated,
	})
}

// deleteSession handles DELETE /api/auth/session. A session-authenticated
// request revokes that session; a bearer request revokes whatever session
// the user holds.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := middleware.GetUser(r)

	var err error
	if token := contextkeys.SessionToken(ctx); token != "" {
		err = s.sessions.Delete(ctx, token)
	} else {
		err = s.sessions.DeleteByUser(ctx, user.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.users.SetLoggedIn(ctx, user, false); err != nil {
		s.log(r).WithError(err).WithField("username", user.Username).Warn("failed to mark user logged out")
	}
	httputil.WriteNoContent(w)
}
