package router

import (
	"smile-ai/backend/pkg/di"
	"smile-ai/backend/pkg/errors"
	"smile-ai/backend/pkg/health"
	"smile-ai/backend/pkg/logger"
	"smile-ai/backend/pkg/middleware"
	"smile-ai/backend/webhook/api"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request id first so the request logger picks it up
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	opts := middleware.DefaultRateLimiterOptions()
	opts.Limit = rate.Limit(cfg.Security.RateLimit)
	opts.Burst = cfg.Security.RateLimitBurst

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		rateLimiter: middleware.NewRateLimiter(container.Logger, opts),
	}
}

// SetupRoutes registers all application routes. Webhooks are not rate
// limited: throttled deliveries would only come back as provider retries.
func (r *Router) SetupRoutes() {
	c := r.Container

	limited := r.Engine.Group("/")
	limited.Use(r.rateLimiter.Middleware())
	{
		live := health.LivenessHandler(c.Config.Server.ServiceName)
		limited.GET("/", live)
		limited.GET("/health", live)
		limited.GET("/health/ready", c.Health.ReadinessHandler())
		limited.GET("/metrics", gin.WrapH(c.Metrics.Handler()))
	}

	webhooks := api.NewWebhookController(
		c.Config.Server.PublicBaseURL,
		c.Config.Security.MaxBodySize,
		c.Orchestrators...,
	)
	webhooks.RegisterRoutes(r.Engine)
}

// Close stops the router's background work
func (r *Router) Close() {
	r.rateLimiter.Stop()
}
