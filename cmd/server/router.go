package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tetherhq/tether-api/internal/api"
	apiMiddleware "github.com/tetherhq/tether-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	jobHandler := api.NewJobHandler(app.enqueuer, app.runner, app.jobStore, app.logger)
	errorHandler := api.NewErrorHandler(app.tracker, app.orchestrator, app.logger)

	// Register routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Job endpoints
			r.Post("/jobs", jobHandler.EnqueueJob)
			r.Post("/jobs/run", jobHandler.RunJobs)
			r.Get("/jobs/{id}", jobHandler.GetJob)

			// Error-record endpoints
			r.Get("/errors/summary", errorHandler.GetErrorSummary)
			r.Post("/errors/retry", errorHandler.RetryErrors)
			r.Post("/errors/{id}/resolve", errorHandler.ResolveError)
		})
	})

	// Operational endpoints (no auth)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		app.promRegistry,
		promhttp.HandlerOpts{},
	))

	return r
}
