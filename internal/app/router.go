package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/gateway"
	"github.com/sentinel-authz/sentinel/internal/manifest"
	"github.com/sentinel-authz/sentinel/internal/observability"
	"github.com/sentinel-authz/sentinel/internal/policy"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Gateway          *gateway.Gateway
	Registry         *policy.Registry
	ManifestHandler  *manifest.Handler
	PrincipalHandler *directory.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Sentinel defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Gateway: params.Gateway,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	adminPolicy := "sentinel.admin"
	if params.Config != nil && params.Config.AdminPolicy != "" {
		adminPolicy = params.Config.AdminPolicy
	}

	r.Route("/api", func(r chi.Router) {
		// Registration stays open so services can self-register at boot
		// before any principal exists to hold the admin role.
		r.Route("/manifests", func(r chi.Router) {
			params.ManifestHandler.MountRoutes(r)
		})
		r.Route("/principals", func(r chi.Router) {
			r.Use(gateway.RequirePolicy(params.Registry, adminPolicy))
			params.PrincipalHandler.MountRoutes(r)
		})
	})

	return r
}
