package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/usersync/pkg/httputil"
	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/reconcile"
	"github.com/platinummonkey/usersync/pkg/session"
)

// listUsers handles GET /api/admin/users
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context(), httputil.ParseQueryString(r, "search", ""))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, users)
}

// createUser handles POST /api/admin/users
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req reconcile.CreateUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := s.users.CreateUser(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// getUser handles GET /api/admin/users/{id}
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	user, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// updateUser handles PUT /api/admin/users/{id}
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var update reconcile.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}

	user, err := s.users.UpdateProfile(r.Context(), id, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// deleteUser handles DELETE /api/admin/users/{id}
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := s.users.DeleteUser(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.sessions != nil {
		if err := s.sessions.DeleteByUser(r.Context(), id); err != nil {
			s.log(r).WithError(err).WithField("user_id", id).Warn("failed to revoke sessions of deleted user")
		}
	}
	httputil.WriteNoContent(w)
}

// writeError maps err to a status and logs server-side failures
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		httputil.WriteNotFound(w, err.Error())
		return
	}

	status := httputil.StatusForError(err)
	if status >= http.StatusInternalServerError {
		fields := map[string]interface{}{"path": r.URL.Path}
		var userErr *identity.UserError
		if errors.As(err, &userErr) {
			fields["username"] = userErr.Username
		}
		s.log(r).WithError(err).WithFields(fields).Error("request failed")
	}
	httputil.WriteIdentityError(w, err)
}
