// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"wacrm_backend/platform/config"
	"wacrm_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	GetWebhookRateLimitPerMin() int
}

// HealthChecker is one dependency probed by GET /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

// Ping calls f.
func (f HealthFunc) Ping(ctx context.Context) error { return f(ctx) }

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Checks are keyed by dependency name ("database", "redis"). Any failing
	// check turns the health endpoint into 503.
	Checks map[string]HealthChecker
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}
