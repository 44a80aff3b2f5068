// Package middleware provides HTTP middleware for authentication,
// authorization, usage metering and login throttling.
//
// # Ordering
//
// AuthMiddleware binds the identity and never rejects a request. Everything
// that depends on the identity runs inside it:
//
//	router.Use(middleware.RequestLogger(logger))
//	router.Use(gate.Handler)
//	api.Handle("/me", middleware.RequireAuthenticated(meHandler))
//	admin.Use(middleware.RequireRole(auth.RoleAdmin))
//	api.Handle("/usage/check", quota.Handler(checkHandler))
//
// QuotaMiddleware before AuthMiddleware sees no identity and answers 401.
//
// # Login throttle
//
// LoginThrottle counts attempts per client IP in fixed windows. Use a
// RedisCounter when several instances serve traffic and a MemoryCounter
// otherwise.
package middleware
