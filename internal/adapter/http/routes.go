package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/bleam/bridge/internal/middleware"
	"github.com/bleam/bridge/internal/service"
)

// MountRoutes registers the webhook ingress and the service-token-protected
// control surface on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, auth *service.ServiceAuth) {
	// Webhook ingress authorizes via the derived per-tenant secret in the
	// path, not via service tokens.
	r.Post("/webhook/{userId}/{secret}", h.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ServiceAuth(auth))
		r.Post("/start-platform", h.StartPlatform)
		r.Post("/stop-platform", h.StopPlatform)
	})
}
