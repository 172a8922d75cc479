// Package api provides the HTTP surface of the user sync service.
//
// # Routes
//
// Public:
//
//	GET    /api/auth/public/config        realm, auth server URL and public client id
//
// Authenticated (bearer token or X-Session-Token):
//
//	GET    /api/auth/profile              the reconciled caller
//	PUT    /api/auth/profile              edit the caller's own profile
//	POST   /api/auth/session              issue a session token
//	DELETE /api/auth/session              revoke the caller's session
//
// ADMIN only:
//
//	GET    /api/admin/users?search=       list or search local users
//	POST   /api/admin/users               create locally and in the identity provider
//	GET    /api/admin/users/{id}
//	PUT    /api/admin/users/{id}          profile edit, pushed to the identity provider
//	DELETE /api/admin/users/{id}
//	GET    /api/admin/sync/test-idp
//	POST   /api/admin/sync/push-all
//	GET    /api/admin/sync/status
//	POST   /api/admin/sync/roles/ensure
//	POST   /api/admin/sync/user/{username}/push
//	POST   /api/admin/sync/user/{username}/assign-role/{role}
//	GET    /api/admin/sync/user/{username}/roles
//
// Every bearer-authenticated request reconciles the token identity into the
// local store before the handler runs (see pkg/middleware). Errors are JSON
// {"error": "..."} bodies with statuses from httputil.StatusForError.
//
// Health checks and Prometheus metrics are served by OpsHandler on a
// separate listener.
package api
