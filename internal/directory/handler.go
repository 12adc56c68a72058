package directory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sentinel-authz/sentinel/internal/platform/httpx"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

// AttributeResolver computes a resolved set directly, bypassing the cache.
// The admin read endpoint uses it so operators always see current data.
type AttributeResolver interface {
	Resolve(ctx context.Context, principalID uuid.UUID, service string) (*ResolvedAttributeSet, error)
}

// Handler exposes the administrative grant and attribute API.
type Handler struct {
	logger   *slog.Logger
	grants   *Grants
	resolver AttributeResolver
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, grants *Grants, resolver AttributeResolver) *Handler {
	return &Handler{logger: logger, grants: grants, resolver: resolver}
}

// MountRoutes registers principal administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{principalID}", func(r chi.Router) {
		r.Post("/grants", h.grant)
		r.Delete("/grants", h.revoke)
		r.Put("/attributes", h.setAttribute)
		r.Get("/attributes", h.resolvedAttributes)
	})
}

type grantRequest struct {
	Service    string     `json:"service"`
	Role       string     `json:"role"`
	ResourceID *string    `json:"resource_id"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type setAttributeRequest struct {
	Service string `json:"service"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principalID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	assignment, err := h.grants.Grant(r.Context(), GrantRequest{
		PrincipalID: principalID,
		Service:     req.Service,
		Role:        req.Role,
		ResourceID:  req.ResourceID,
		GrantedBy:   shared.PrincipalFromContext(r.Context()).Username,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("role granted",
		slog.String("principal_id", principalID.String()),
		slog.String("service", req.Service),
		slog.String("role", req.Role))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":         assignment.ID,
		"granted_at": assignment.GrantedAt,
		"expires_at": assignment.ExpiresAt,
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principalID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if err := h.grants.Revoke(r.Context(), principalID, req.Service, req.Role, req.ResourceID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("role revoked",
		slog.String("principal_id", principalID.String()),
		slog.String("service", req.Service),
		slog.String("role", req.Role))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setAttribute(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principalID(w, r)
	if !ok {
		return
	}
	var req setAttributeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	updatedBy := shared.PrincipalFromContext(r.Context()).Username
	if err := h.grants.SetAttribute(r.Context(), principalID, req.Service, req.Name, req.Value, updatedBy); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolvedAttributes(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principalID(w, r)
	if !ok {
		return
	}
	set, err := h.resolver.Resolve(r.Context(), principalID, r.URL.Query().Get("service"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) principalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "principalID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
