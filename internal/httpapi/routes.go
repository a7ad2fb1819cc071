package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MrEthical07/teamguard/middleware"
)

// AdminRole may read the audit trail and lock accounts.
const AdminRole = "admin"

// Routes builds the service router. Extra handlers such as /metrics are mounted by
// the caller on the returned router.
func (h *Handler) Routes() chi.Router {
	cfg := h.engine.Config()

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.metrics.Middleware)
	r.Use(middleware.SecurityHeaders(cfg.Security.ProductionMode))

	r.Get("/healthz", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.Precheck(h.engine))
		r.Use(middleware.CSRF(h.engine))
		r.Method(http.MethodGet, "/csrf", middleware.CSRFTokenHandler(h.engine))
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/password-reset/request", h.RequestPasswordReset)
		r.Post("/password-reset/complete", h.CompletePasswordReset)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Protect(h.engine))
		r.Use(middleware.CSRF(h.engine))
		r.Get("/me", h.Me)
		r.Get("/sessions", h.Sessions)
		r.Delete("/sessions", h.RevokeOtherSessions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(h.engine, AdminRole))
			r.Get("/audit", h.AuditEvents)
			r.Get("/lockout", h.Lockout)
			r.Post("/users/{userID}/lock", h.LockUser)
			r.Post("/users/{userID}/unlock", h.UnlockUser)
		})
	})

	return r
}
