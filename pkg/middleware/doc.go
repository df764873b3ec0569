// Package middleware provides rate limiting for the billing actions of the
// HTTP API.
//
// RateLimiter is an in-process token bucket; DistributedRateLimiter shares
// a fixed window counter across instances through Redis. Both plug into the
// RateLimit middleware, which keys requests by client IP:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	server := api.NewServer(invoices, customers, service, logger,
//		api.WithActionMiddleware(middleware.RateLimit(limiter)))
//
// Rejected requests get 429 with Retry-After. If the limiter fails (Redis
// down) the request is allowed.
package middleware
