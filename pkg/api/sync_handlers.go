package api

import (
	"net/http"

	"github.com/platinummonkey/usersync/pkg/httputil"
)

// ConnectionResponse reports identity provider reachability
type ConnectionResponse struct {
	Connected bool `json:"connected"`
}

// MessageResponse acknowledges an action
type MessageResponse struct {
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// testIdP handles GET /api/admin/sync/test-idp
func (s *Server) testIdP(w http.ResponseWriter, r *http.Request) {
	connected := s.sync.TestConnection(r.Context())
	status := http.StatusOK
	if !connected {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, ConnectionResponse{Connected: connected})
}

// pushAll handles POST /api/admin/sync/push-all. Per-user failures are
// reported in the result, not as an error status.
func (s *Server) pushAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.PushAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// syncStatus handles GET /api/admin/sync/status
func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.SyncStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}

// ensureRoles handles POST /api/admin/sync/roles/ensure
func (s *Server) ensureRoles(w http.ResponseWriter, r *http.Request) {
	if err := s.sync.EnsureRoles(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, MessageResponse{Message: "roles ensured"})
}

// pushUser handles POST /api/admin/sync/user/{username}/push
func (s *Server) pushUser(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	if err := s.sync.PushUser(r.Context(), username); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, MessageResponse{Message: "user pushed", Username: username})
}

// assignRole handles POST /api/admin/sync/user/{username}/assign-role/{role}
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	roles, err := s.sync.AssignRole(r.Context(), username, role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// userRoles handles GET /api/admin/sync/user/{username}/roles
func (s *Server) userRoles(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	roles, err := s.sync.UserRoles(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}
