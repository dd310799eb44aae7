package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "hooksync/internal/api/context"
	"hooksync/internal/api/handlers"
	"hooksync/internal/api/middleware"
	"hooksync/internal/pkg/errors"
	"hooksync/internal/platform/auth"
	"hooksync/internal/platform/config"
)

type Dependencies struct {
	WebhookHandler *handlers.WebhookHandler
	EventHandler   *handlers.EventHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	RateLimit      config.RateLimitConfig
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	limiter := deps.RateLimiter
	webhookLimit := limiter.RateLimit("webhooks", deps.RateLimit.WebhooksPerMinute, sourceKey)
	adminLimit := limiter.RateLimit("admin", deps.RateLimit.AdminPerMinute, middleware.ByClientIP)

	// Inbound webhooks
	router.POST("/webhooks/:source",
		chain(deps.WebhookHandler.Receive, middleware.Observe("/webhooks/:source"), webhookLimit))

	router.GET("/health", chain(deps.HealthHandler.Check, middleware.Observe("/health")))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	authMid := deps.AuthMiddleware
	admin := func(route string, h http.HandlerFunc) httprouter.Handle {
		return chain(h, middleware.Observe(route), adminLimit, authMid.Handle, requireRole(auth.RoleOperator))
	}

	// Operator API
	router.GET("/admin/events", admin("/admin/events", deps.EventHandler.List))
	router.GET("/admin/events/:event_id", admin("/admin/events/:event_id", deps.EventHandler.Get))
	router.POST("/admin/events/:event_id/replay", admin("/admin/events/:event_id/replay", deps.EventHandler.Replay))

	router.GET("/admin/quarantine", admin("/admin/quarantine", deps.EventHandler.ListQuarantine))
	router.POST("/admin/quarantine", admin("/admin/quarantine", deps.EventHandler.Quarantine))
	router.DELETE("/admin/quarantine/:event_id", admin("/admin/quarantine/:event_id", deps.EventHandler.Unquarantine))

	router.GET("/admin/sync-log", admin("/admin/sync-log", deps.AuditHandler.List))
	router.GET("/admin/breakers", admin("/admin/breakers", deps.AuditHandler.Breakers))

	return router
}

// Webhook buckets are per source so one noisy platform cannot starve the others.
func sourceKey(r *http.Request) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName("source")
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if ok && claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
