package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/vehiclefolders/internal/api/middleware"
	"github.com/kiranshivaraju/vehiclefolders/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	StartRetrieval   http.HandlerFunc
	FolderRetrievals http.HandlerFunc
	LatestRetrieval  http.HandlerFunc
	GetRetrieval     http.HandlerFunc
	RetrievalLogs    http.HandlerFunc
	RetrievalStatus  http.HandlerFunc
	Prefill          http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/folders/{folderID}/retrievals", orNotImplemented(deps.FolderRetrievals))
		r.Get("/api/v1/folders/{folderID}/retrievals/{jobType}/latest", orNotImplemented(deps.LatestRetrieval))

		r.Get("/api/v1/retrievals/latest/{jobType}", orNotImplemented(deps.Prefill))
		r.Get("/api/v1/retrievals/{jobID}", orNotImplemented(deps.GetRetrieval))
		r.Get("/api/v1/retrievals/{jobID}/logs", orNotImplemented(deps.RetrievalLogs))
		r.Get("/api/v1/retrievals/{jobID}/status", orNotImplemented(deps.RetrievalStatus))

		// Starting a job calls the automation service and needs write access.
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("write"))

			r.Post("/api/v1/folders/{folderID}/retrievals/{jobType}", orNotImplemented(deps.StartRetrieval))
		})
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
