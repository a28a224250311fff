package app

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crossborder/core/internal/adapters"
	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/middleware/correlation"
	"github.com/crossborder/core/internal/modules/auth"
	"github.com/crossborder/core/internal/modules/payment"
	"github.com/crossborder/core/internal/modules/quote"
	"github.com/crossborder/core/internal/modules/webhook"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/idempotency"
	"github.com/crossborder/core/internal/pkg/response"
)

type routeDeps struct {
	clients      []middleware.APIClient
	idemIndex    idempotency.Index
	registry     *adapters.Registry
	quotes       *quote.Service
	orchestrator *payment.Orchestrator
	webhooks     *webhook.Service
	auth         *auth.Service
}

func (a *App) registerRoutes(deps routeDeps) {
	r := a.router
	r.Use(correlation.Middleware())
	r.Use(middleware.Logger(a.logger))

	r.NoRoute(func(c *gin.Context) {
		response.Error(c, apperrors.NotFound("Route not found"))
	})
	r.NoMethod(func(c *gin.Context) {
		response.Error(c, apperrors.BadRequest("Method not allowed"))
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"uptime": time.Since(processStart).Milliseconds(),
		})
	})

	authMW := a.authChain(deps.clients)
	idemMW := middleware.Idempotency(deps.idemIndex, a.logger)

	v1 := r.Group("/v1")

	auth.NewHandler(deps.auth).RegisterRoutes(v1)
	quote.NewHandler(deps.quotes).RegisterRoutes(v1, authMW)
	payment.NewHandler(deps.orchestrator).RegisterRoutes(v1, authMW, idemMW)
	webhook.NewHandler(deps.webhooks).RegisterRoutes(v1, authMW)

	// GET /v1/networks
	v1.GET("/networks", authMW, func(c *gin.Context) {
		response.List(c, deps.registry.List())
	})

	// Background job introspection for operators.
	v1.GET("/jobs", authMW, func(c *gin.Context) {
		response.List(c, a.sched.List())
	})
	v1.POST("/jobs/:name/run", authMW, func(c *gin.Context) {
		if err := a.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
			response.Error(c, apperrors.NotFound(err.Error()))
			return
		}
		response.Accepted(c, gin.H{"name": c.Param("name")})
	})
}

// authChain authenticates the request and then applies the per-client
// rate limit, so the limit keys on client id rather than IP.
func (a *App) authChain(clients []middleware.APIClient) gin.HandlerFunc {
	authMW := middleware.Auth(clients)
	if !a.cfg.RateLimit.Enable {
		return authMW
	}

	var limiter middleware.Limiter
	if a.redis != nil {
		limiter = middleware.NewRedisLimiter(a.redis, a.cfg.RateLimit.RequestsPerMinute, time.Minute)
	} else {
		limiter = middleware.NewMemoryLimiter(a.cfg.RateLimit.RequestsPerMinute, time.Minute)
	}
	rateMW := middleware.RateLimit(limiter, a.logger)

	return func(c *gin.Context) {
		authMW(c)
		if c.IsAborted() {
			return
		}
		rateMW(c)
	}
}

var processStart = time.Now()
