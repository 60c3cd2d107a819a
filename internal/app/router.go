package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campusfleet/campusfleet/internal/auth"
	"github.com/campusfleet/campusfleet/internal/session"
	"github.com/campusfleet/campusfleet/internal/shared"
	"github.com/campusfleet/campusfleet/internal/token"
	"github.com/campusfleet/campusfleet/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	Sessions    *session.Manager
	CSRFManager *shared.CSRFManager
	Issuer      *token.Issuer
	AuthHandler *auth.Handler
	JobHandler  *jobs.Handler
}

// NewRouter constructs the chi.Router with CampusFleet defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:      params.Logger,
		Config:      params.Config,
		Sessions:    params.Sessions,
		CSRFManager: params.CSRFManager,
		Issuer:      params.Issuer,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
