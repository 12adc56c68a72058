package manifest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinel-authz/sentinel/internal/platform/httpx"
)

// Handler exposes manifest registration over HTTP.
type Handler struct {
	logger    *slog.Logger
	registrar *Registrar
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, registrar *Registrar) *Handler {
	return &Handler{logger: logger, registrar: registrar}
}

// MountRoutes registers manifest routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.register)
	r.Get("/{service}", h.activeManifest)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var body Body
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}

	manifest, service, err := h.registrar.Register(r.Context(), body, r.RemoteAddr)
	if err != nil {
		h.logger.Error("manifest registration failed",
			slog.String("service", body.Service),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	h.logger.Info("manifest registered",
		slog.String("service", service.Name),
		slog.Int("version", manifest.Version))
	httpx.JSON(w, http.StatusCreated, ServiceSummary{
		Service:         service.Name,
		DisplayName:     service.DisplayName,
		Description:     service.Description,
		ManifestVersion: service.ManifestVersion,
		IsActive:        service.IsActive,
	})
}

func (h *Handler) activeManifest(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	manifest, err := h.registrar.ActiveManifest(r.Context(), service)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"service":      service,
		"version":      manifest.Version,
		"submitted_by": manifest.SubmittedBy,
		"submitted_at": manifest.SubmittedAt,
		"body":         json.RawMessage(manifest.Body),
	})
}
