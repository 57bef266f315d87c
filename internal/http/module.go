// Package http provides HTTP server infrastructure including the Module interface
// that all domain modules must implement for route registration.
package http

import (
	"wacrm_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared groups and middleware for route registration.
type RouterContext struct {
	// V1 is the unauthenticated /api/v1 group. Public lead webhooks live here.
	V1 *gin.RouterGroup
	// Protected requires a valid access token carrying a tenant.
	Protected *gin.RouterGroup
	// WebhookRateLimiter throttles the public lead webhook endpoints per client IP.
	WebhookRateLimiter *httpkit.IPRateLimiter
}
