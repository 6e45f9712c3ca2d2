package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive-relay/internal/auth"
	"drive-relay/internal/config"
	"drive-relay/internal/handler"
	"drive-relay/internal/middleware"
)

type Handlers struct {
	Webhook *handler.WebhookHandler
	Health  *handler.HealthHandler
	Audit   *handler.AuditHandler
	Admin   *handler.AdminHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.WebhookRateLimitRPM, cfg.APIRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)

	r.Route("/webhook", func(wh chi.Router) {
		wh.Post("/whatsapp", h.Webhook.WhatsApp)
		wh.Post("/status", h.Webhook.Status)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.CORS(cfg.CORSOrigins))
		api.Use(authMiddleware.RequireAuth)

		// The stream hijacks the connection, so it stays outside Timeout.
		api.With(authMiddleware.RequireRoles(auth.RoleAdmin, auth.RoleObserver)).Get("/audit/stream", h.Audit.Stream)

		api.Group(func(timed chi.Router) {
			timed.Use(middleware.Timeout(cfg.RequestTimeout))

			timed.With(authMiddleware.RequireRoles(auth.RoleAdmin, auth.RoleObserver)).Get("/audit", h.Audit.List)
			timed.With(authMiddleware.RequireRoles(auth.RoleAdmin, auth.RoleObserver)).Get("/stats/{user}", h.Audit.Stats)
			timed.With(authMiddleware.RequireRoles(auth.RoleAdmin)).Get("/admin/trash", h.Admin.Trash)
			timed.With(authMiddleware.RequireRoles(auth.RoleAdmin)).Post("/admin/storage/authenticate", h.Admin.AuthenticateStorage)
		})
	})

	return r
}
