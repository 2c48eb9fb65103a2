// Package handlers contains HTTP health checks, middleware, and JSON
// response helpers shared by the orchestrator API.
//
// # Health Checks
//
// CompositeHealthChecker runs named checks in parallel. Critical checks
// decide readiness; optional checks only mark the service degraded:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("durable", handlers.NewPingCheck(db))
//	checker.AddCheck("cache", handlers.NewPingCheck(cache))
//	checker.AddOptionalCheck("events", handlers.NewPingCheck(sink))
//	checker.AddOptionalCheck("collaborators", handlers.NewBreakerCheck(client))
//
// # Middleware
//
// The middleware plugs into a chi router after chi's own RequestID and
// RealIP:
//
//	r.Use(handlers.AccessLog(log, metrics))
//	r.Use(handlers.NewIPRateLimiter(120, 20).Middleware)
//	r.Use(handlers.RequestSizeLimitMiddleware(1 << 20))
//	r.Use(handlers.SecurityHeadersMiddleware)
//	r.Use(handlers.CORS([]string{"*"}))
package handlers
