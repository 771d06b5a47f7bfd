package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers the authentication and account routes.
// throttle guards the unauthenticated /auth endpoints, requireSession the rest.
func RegisterRoutes(r chi.Router, handler *AuthHandler, requireSession, throttle Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if throttle != nil {
				r.Use(throttle)
			}
			r.Get("/csrf", handler.CSRF)
			r.Post("/register", handler.Register)
			r.Post("/login", handler.Login)
		})
		r.Get("/session", handler.Session)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Post("/logout", handler.Logout)
		})
	})

	r.Route("/account", func(r chi.Router) {
		r.Use(requireSession)
		r.Get("/dashboard", handler.Dashboard)
		r.Get("/activity", handler.Activity)
		r.Get("/activity/stats", handler.ActivityStats)
		r.Get("/audit", handler.AuditTrail)
	})
}
