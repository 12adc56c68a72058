package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-authz/sentinel/internal/shared"
)

// Invalidator drops cached attribute sets after a mutation. An empty service
// drops every service scope held for the principal.
type Invalidator interface {
	Invalidate(ctx context.Context, principalID uuid.UUID, service string) error
}

// Grants applies administrative role and attribute mutations, invalidating
// the attribute cache after each committed change.
type Grants struct {
	store       Store
	invalidator Invalidator
	logger      *slog.Logger
}

// NewGrants constructs a Grants service.
func NewGrants(store Store, invalidator Invalidator, logger *slog.Logger) *Grants {
	return &Grants{store: store, invalidator: invalidator, logger: logger}
}

// GrantRequest describes one role grant.
type GrantRequest struct {
	PrincipalID uuid.UUID
	Service     string
	Role        string
	ResourceID  *string
	GrantedBy   string
	ExpiresAt   *time.Time
}

// Grant assigns a role to a principal. A second grant for the same
// (principal, role, resource) scope fails with ErrAlreadyAssigned.
func (g *Grants) Grant(ctx context.Context, req GrantRequest) (RoleAssignment, error) {
	if strings.TrimSpace(req.Role) == "" {
		return RoleAssignment{}, shared.NewValidationError("role", "is required")
	}
	role, err := g.store.GetRole(ctx, req.Service, req.Role)
	if err != nil {
		return RoleAssignment{}, err
	}
	assignment, err := g.store.CreateAssignment(ctx, RoleAssignment{
		PrincipalID: req.PrincipalID,
		RoleID:      role.ID,
		ResourceID:  req.ResourceID,
		GrantedBy:   req.GrantedBy,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		return RoleAssignment{}, err
	}
	g.invalidate(ctx, req.PrincipalID, req.Service)
	return assignment, nil
}

// Revoke removes a role assignment. Expired assignments can still be revoked;
// the row is deleted either way.
func (g *Grants) Revoke(ctx context.Context, principalID uuid.UUID, service, roleName string, resourceID *string) error {
	role, err := g.store.GetRole(ctx, service, roleName)
	if err != nil {
		return err
	}
	if err := g.store.DeleteAssignment(ctx, principalID, role.ID, resourceID); err != nil {
		return err
	}
	g.invalidate(ctx, principalID, service)
	return nil
}

// SetAttribute stores an encoded attribute value after checking it decodes
// per the declared definition type. Service empty targets the global scope.
func (g *Grants) SetAttribute(ctx context.Context, principalID uuid.UUID, service, name, encoded, updatedBy string) error {
	if strings.TrimSpace(name) == "" {
		return shared.NewValidationError("name", "is required")
	}
	var serviceID *int64
	if service != "" {
		svc, err := g.store.GetServiceByName(ctx, service)
		if err != nil {
			return err
		}
		serviceID = &svc.ID
	}
	def, err := g.store.GetDefinition(ctx, serviceID, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) && serviceID != nil {
			// A service-scoped value may override a global definition.
			def, err = g.store.GetDefinition(ctx, nil, name)
		}
		if err != nil {
			return err
		}
	}
	if _, err := Decode(def.Type, encoded); err != nil {
		return shared.NewValidationError("value", "does not decode as "+string(def.Type))
	}
	if err := g.store.UpsertValue(ctx, AttributeValue{
		PrincipalID: principalID,
		ServiceID:   serviceID,
		Name:        name,
		Encoded:     encoded,
		UpdatedBy:   updatedBy,
	}); err != nil {
		return err
	}
	// A global value feeds every service scope.
	scope := service
	if serviceID == nil {
		scope = ""
	}
	g.invalidate(ctx, principalID, scope)
	return nil
}

func (g *Grants) invalidate(ctx context.Context, principalID uuid.UUID, service string) {
	if g.invalidator == nil {
		return
	}
	if err := g.invalidator.Invalidate(ctx, principalID, service); err != nil {
		g.logger.Warn("cache invalidation failed",
			slog.String("principal_id", principalID.String()),
			slog.String("service", service),
			slog.Any("error", err))
	}
}
