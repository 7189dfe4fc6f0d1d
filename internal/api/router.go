package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "relayr/internal/api/context"
	"relayr/internal/api/handlers"
	"relayr/internal/api/middleware"
	"relayr/internal/pkg/errors"
	"relayr/internal/platform/auth"
)

type Dependencies struct {
	WebhookHandler    *handlers.WebhookHandler
	EscalationHandler *handlers.EscalationHandler
	ApprovalHandler   *handlers.ApprovalHandler
	AuditHandler      *handlers.AuditHandler
	SchedulerHandler  *handlers.SchedulerHandler
	AuthHandler       *handlers.AuthHandler
	APIKeyHandler     *handlers.APIKeyHandler
	HealthHandler     *handlers.HealthHandler
	AuthMiddleware    *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	authMid := deps.AuthMiddleware

	// Public endpoints
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.POST("/api/v1/auth/token", wrap(deps.AuthHandler.Token))

	// Inbound events are authenticated by their provider signature, not by
	// a bearer token, so they stay outside the auth middleware.
	router.POST("/api/v1/inbound/:provider",
		chain(deps.WebhookHandler.Inbound, middleware.RateLimit("api_write")))

	// Outbound webhook events
	router.POST("/api/v1/events",
		chain(deps.WebhookHandler.Submit, authMid.Handle, middleware.RateLimit("api_write")))
	router.GET("/api/v1/events",
		chain(deps.WebhookHandler.List, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/events/:event_id",
		chain(deps.WebhookHandler.Get, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/events/:event_id/replay",
		chain(deps.WebhookHandler.Replay, authMid.Handle, requireRole("admin", "owner", "service"), middleware.RateLimit("api_write")))

	// Approvals
	router.POST("/api/v1/approvals",
		chain(deps.ApprovalHandler.Submit, authMid.Handle, middleware.RateLimit("api_write")))
	router.GET("/api/v1/approvals",
		chain(deps.ApprovalHandler.List, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/approvals/:approval_id/resolve",
		chain(deps.ApprovalHandler.Resolve, authMid.Handle, middleware.RateLimit("api_write")))

	// Escalation rules and events
	router.POST("/api/v1/escalations/rules",
		chain(deps.EscalationHandler.CreateRule, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))
	router.PATCH("/api/v1/escalations/rules/:rule_id",
		chain(deps.EscalationHandler.UpdateRule, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))
	router.GET("/api/v1/escalations/rules",
		chain(deps.EscalationHandler.ListRules, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/escalations/events",
		chain(deps.EscalationHandler.ListEvents, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/escalations/events/:escalation_id/cancel",
		chain(deps.EscalationHandler.CancelEvent, authMid.Handle, middleware.RateLimit("api_write")))

	// Audit trail
	router.GET("/api/v1/audit/logs",
		chain(deps.AuditHandler.Query, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/audit/statistics",
		chain(deps.AuditHandler.Statistics, authMid.Handle, middleware.RateLimit("api_read")))
	router.GET("/api/v1/audit/export",
		chain(deps.AuditHandler.Export, authMid.Handle, middleware.RateLimit("export")))
	router.POST("/api/v1/audit/purge",
		chain(deps.AuditHandler.Purge, authMid.Handle, requireRole("owner"), middleware.RateLimit("api_write")))

	// Scheduler controls
	router.GET("/api/v1/schedulers/:scheduler",
		chain(deps.SchedulerHandler.Status, authMid.Handle, middleware.RateLimit("api_read")))
	router.POST("/api/v1/schedulers/:scheduler/start",
		chain(deps.SchedulerHandler.Start, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))
	router.POST("/api/v1/schedulers/:scheduler/stop",
		chain(deps.SchedulerHandler.Stop, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))

	// API key management
	router.POST("/api/v1/keys",
		chain(deps.APIKeyHandler.Create, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))
	router.GET("/api/v1/keys",
		chain(deps.APIKeyHandler.List, authMid.Handle, middleware.RateLimit("api_read")))
	router.DELETE("/api/v1/keys/:key_id",
		chain(deps.APIKeyHandler.Revoke, authMid.Handle, requireRole("admin", "owner"), middleware.RateLimit("api_write")))

	return router
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
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
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
