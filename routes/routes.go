package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/meridiancrm/ai-core/app"
	"github.com/meridiancrm/ai-core/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.SQLDB(), deps.ProviderRegistry, deps.Logger)
	aiHandler := handlers.NewAIHandler(deps.Orchestrator, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Prometheus metrics
	if deps.Config.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		if deps.Config.Auth.Enabled {
			r.Use(deps.AuthMiddleware.RequireAuth)
		}

		r.Route("/ai", func(r chi.Router) {
			r.Post("/analyze", aiHandler.HandleAnalyze)
			r.Post("/requests", aiHandler.HandleSubmit)
			r.Get("/requests/{id}", aiHandler.HandleGetRequest)
			r.Post("/bulk", aiHandler.HandleBulkAnalyze)
			r.Get("/providers", aiHandler.HandleProviders)
			r.Get("/history", aiHandler.HandleHistory)
			r.Delete("/cache", aiHandler.HandleClearCache)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
