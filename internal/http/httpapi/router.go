package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(middleware.I18N("en"))

	// Unauthenticated surfaces.
	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/webhooks/{provider}", app.Webhook)

	if app.Config != nil && app.Config.StoragePath != "" {
		fileServer := stdhttp.FileServer(stdhttp.Dir(app.Config.StoragePath))
		r.Handle("/static/*", stdhttp.StripPrefix("/static/", fileServer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth())

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.GenerationsCreate)
			r.Get("/{job_id}", app.GenerationGet)
			r.Post("/{job_id}/check", app.GenerationCheck)
			r.Post("/{job_id}/review", app.GenerationReview)
			r.Patch("/{job_id}/details", app.GenerationUpdateDetails)
		})

		r.Get("/v1/events", app.Events)
		r.Get("/v1/costs/analytics", app.CostAnalytics)
	})

	return r
}
