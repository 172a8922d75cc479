// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Overview
//
// AuthMiddleware authenticates every request either with a bearer access
// token or with a session token issued by the session endpoint. Bearer
// requests are verified against the identity provider's keys and the
// token's identity is reconciled into the local user store before the
// handler runs, so handlers always see the current local user.
//
//	auth := middleware.NewAuthMiddleware(verifier, engine, sessions, store, logger)
//	router.Use(auth.Handler)
//	admin.Use(middleware.RequireAdmin)
//
// Any verification or reconciliation failure is answered with 401. A user
// whose type is not allowed by RequireUserType gets 403.
//
// # Rate Limiting
//
// RateLimitMiddleware keys requests by user id when authenticated and by
// client address otherwise. RateLimiter is an in-process token bucket;
// DistributedRateLimiter keeps fixed window counters in Redis.
//
//	limiter := middleware.NewDistributedRateLimiter(redis, middleware.SessionRateLimitConfig(), "ratelimit:session")
//	router.Handle("/api/auth/session", middleware.NewRateLimitMiddleware(limiter, logger).Handler(h))
//
// # Related Packages
//
//   - pkg/keycloak: token verification
//   - pkg/reconcile: reconciliation engine
//   - pkg/session: session tokens
package middleware
