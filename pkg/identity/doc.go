// Package identity defines the user model shared by the local store and
// the identity provider, together with the pure functions that turn a
// verified access token into a local identity.
//
// # Claims
//
// Token claims are decoded into TokenClaims and flattened by an Extractor:
//
//	ext := identity.NewExtractor("sss-backend")
//	claims, err := ext.Extract(tokenClaims)
//	if errors.Is(err, identity.ErrMissingIdentity) {
//		// reject the request, never synthesize a username
//	}
//
// Roles are read from realm_access.roles, falling back to
// resource_access.<client>.roles for the configured client.
//
// # User types
//
// MapRoles collapses a role set into exactly one UserType. The order is
// fixed: admin, then character, then REAL_USER.
//
// # Errors
//
// Callers compare against the sentinel errors with errors.Is. UserError
// attaches the operation and username to administrative failures.
package identity
