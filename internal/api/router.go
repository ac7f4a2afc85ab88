package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/tidyflow/internal/api/handler"
	mw "github.com/kiranshivaraju/tidyflow/internal/api/middleware"
	"github.com/kiranshivaraju/tidyflow/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Jobs          *handler.Jobs
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		if j := deps.Jobs; j != nil {
			r.Post("/jobs/upload", j.Upload)
			r.Get("/jobs/{id}", j.Status)
			r.Post("/jobs/{id}/profile", j.Start)
			r.Get("/jobs/{id}/profile", j.Profile)
			r.Get("/jobs/{id}/suggestions", j.Suggestions)
			r.Get("/jobs/{id}/download", j.Download)
			r.Get("/jobs/{id}/report", j.Report)
			r.Post("/jobs/{id}/resubmit", j.Resubmit)
		}
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
