// internal/app/features/auth/routes.go
package auth

import (
	"net/http"

	"github.com/dalemusser/taskhub/internal/app/system/auth"
	"github.com/dalemusser/taskhub/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router mounted at /api/auth. Login is rate limited per
// client IP; logout and me require a session.
func Routes(h *Handler, sm *auth.SessionManager, loginLimiter *ratelimit.Limiter) chi.Router {
	r := chi.NewRouter()

	r.Post("/register", h.ServeRegister)

	onLimit := func(req *http.Request) { h.AuditLog.LoginRateLimited(req.Context(), req) }
	r.With(loginLimiter.Middleware(h.Log, onLimit)).Post("/login", h.ServeLogin)

	r.Group(func(pr chi.Router) {
		pr.Use(sm.RequireSignedIn)
		pr.Post("/logout", h.ServeLogout)
		pr.Get("/me", h.ServeMe)
	})

	return r
}
