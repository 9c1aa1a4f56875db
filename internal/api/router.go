// Package api exposes the local admin surface of the bridge: login, health,
// metrics and the same publish/unpublish/query operations the hub invokes as
// direct methods.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opcbridge/opcbridge/internal/auth"
	"github.com/opcbridge/opcbridge/internal/methods"
	"github.com/opcbridge/opcbridge/internal/middleware"
)

// NewRouter creates and configures the admin API router.
func NewRouter(authService *auth.Service, methodHandlers *methods.Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	// Initialize handlers
	healthHandler := NewHealthHandler()
	systemHandler := NewSystemHandler(authService)
	adminHandler := NewAdminHandler(methodHandlers)

	// Public routes (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoint
		r.Post("/login", systemHandler.Login)

		// Protected routes (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(authService))

			r.Post("/publish", adminHandler.PublishNodes)
			r.Post("/publish-events", adminHandler.PublishEvents)
			r.Post("/unpublish", adminHandler.UnpublishNodes)
			r.Post("/unpublish-all", adminHandler.UnpublishAllNodes)

			r.Route("/endpoints", func(r chi.Router) {
				r.Get("/", adminHandler.ListEndpoints)
				r.Get("/{id}/nodes", adminHandler.ListNodes)
				r.Get("/{id}/events", adminHandler.ListEvents)
				r.Delete("/{id}", adminHandler.DeleteEndpoint)
			})

			r.Get("/configuration", adminHandler.GetConfiguration)
			r.Put("/configuration", adminHandler.SaveConfiguration)
			r.Get("/diagnostics", adminHandler.Diagnostics)
		})
	})

	return r
}
