// Package middleware provides the HTTP gates in front of the dashboard: the session guard,
// the organization gate and login rate limiting.
//
// # Route Guard
//
// Evaluate turns a session state into one of three decisions. RequireSession applies it:
//
//	checking         202 {"status":"checking"} with Retry-After, no redirect
//	unauthenticated  302 to /login?from=<original URI>
//	authenticated    next handler, user ID in the context
//
//	protected := r.PathPrefix("/app").Subrouter()
//	protected.Use(middleware.RequireSession(facade, "/login"))
//	protected.Use(middleware.RequireOrganization(selection, "/orgs/select", logger))
//
// # Rate Limiting
//
// RateLimit keys requests by client IP and accepts any Limiter. RateLimiter is an
// in-process token bucket; DistributedRateLimiter shares fixed windows through Redis so
// every replica enforces one limit. Limiter errors let the request through.
//
//	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
//		RequestsPerWindow: 30,
//		WindowDuration:    time.Minute,
//		BurstSize:         10,
//	})
//	limiter.StartCleanup(ctx)
//	r.Handle("/login", middleware.RateLimit(limiter, logger)(loginHandler)).Methods("POST")
//
// # Related Packages
//
//   - pkg/auth: Facade, the usual StateSource
//   - pkg/tenant: Selection, the usual OrganizationSource
package middleware
