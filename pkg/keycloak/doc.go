// Package keycloak implements the identity provider collaborators on top
// of Keycloak.
//
// Client speaks the realm admin REST API using an admin token obtained
// with the password or client credentials grant. Verifier checks bearer
// tokens against the realm's JWKS and turns them into identity.Claims.
//
// Admin API failures are returned as *APIError. Transport errors, 401 and
// 403 from the admin API and 5xx responses match
// identity.ErrIdentityProviderUnavailable; 404 and 409 match the sentinel
// of the resource involved.
package keycloak
