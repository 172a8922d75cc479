// Package httputil provides the JSON, error and middleware helpers shared
// by the HTTP handlers.
//
// Errors from the identity and reconcile packages are written with
// WriteIdentityError, which maps them to a status code:
//
//	missing identity          401
//	invalid request           400
//	user or role not found    404
//	conflict, already exists  409
//	identity provider down    502
//	anything else             500
//
// Middleware composes with Chain:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
