// Package resolver computes the effective attribute set for a
// (principal, service) pair: global and service-scoped values merged,
// declared defaults filled in, encodings decoded per declared type.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-authz/sentinel/internal/directory"
)

// Store is the slice of the durable store resolution reads from.
type Store interface {
	GetPrincipal(ctx context.Context, id uuid.UUID) (directory.Principal, error)
	GetServiceByName(ctx context.Context, name string) (directory.Service, error)
	ListDefinitions(ctx context.Context, serviceID *int64) ([]directory.AttributeDefinition, error)
	ListValues(ctx context.Context, principalID uuid.UUID, serviceID *int64) ([]directory.AttributeValue, error)
	ListActiveRoleNames(ctx context.Context, principalID uuid.UUID, service string, now time.Time) ([]string, error)
}

// Service resolves attribute sets against the durable store.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a resolver backed by the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Resolve computes the ResolvedAttributeSet for one principal restricted to
// one service's visible scope. An empty service resolves the global scope
// only. Stored values that fail to decode are logged and replaced by the
// definition default when one exists, otherwise omitted; they never fail the
// call.
func (s *Service) Resolve(ctx context.Context, principalID uuid.UUID, service string) (*directory.ResolvedAttributeSet, error) {
	principal, err := s.store.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	var serviceID *int64
	if service != "" {
		svc, err := s.store.GetServiceByName(ctx, service)
		if err != nil {
			return nil, err
		}
		serviceID = &svc.ID
	}

	defs, err := s.store.ListDefinitions(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	values, err := s.store.ListValues(ctx, principalID, serviceID)
	if err != nil {
		return nil, err
	}

	defsByName := make(map[string]directory.AttributeDefinition, len(defs))
	for _, def := range defs {
		// A service-scoped definition shadows a global one of the same name.
		if existing, ok := defsByName[def.Name]; ok && existing.ServiceID != nil && def.ServiceID == nil {
			continue
		}
		defsByName[def.Name] = def
	}

	attrs := make(map[string]directory.Value, len(values))
	// Global values first so service-scoped values win name ties.
	for _, pass := range []bool{true, false} {
		for _, v := range values {
			if (v.ServiceID == nil) != pass {
				continue
			}
			def, ok := defsByName[v.Name]
			if !ok {
				s.logger.Warn("attribute value without definition, skipping",
					slog.String("principal_id", principalID.String()),
					slog.String("attribute", v.Name))
				continue
			}
			decoded, err := directory.Decode(def.Type, v.Encoded)
			if err != nil {
				s.logger.Error("stored attribute failed to decode",
					slog.String("principal_id", principalID.String()),
					slog.String("attribute", v.Name),
					slog.Any("error", err))
				if fallback, ok := s.decodeDefault(def); ok {
					attrs[v.Name] = fallback
				} else {
					delete(attrs, v.Name)
				}
				continue
			}
			attrs[v.Name] = decoded
		}
	}

	// Required definitions with no stored value get their declared default.
	for _, def := range defs {
		if !def.IsRequired {
			continue
		}
		if _, ok := attrs[def.Name]; ok {
			continue
		}
		if fallback, ok := s.decodeDefault(def); ok {
			attrs[def.Name] = fallback
		}
	}

	roles, err := s.store.ListActiveRoleNames(ctx, principalID, service, s.now())
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []string{}
	}

	return &directory.ResolvedAttributeSet{
		PrincipalID: principal.ID,
		Username:    principal.Username,
		DisplayName: principal.DisplayName,
		Service:     service,
		Roles:       roles,
		Attributes:  attrs,
	}, nil
}

func (s *Service) decodeDefault(def directory.AttributeDefinition) (directory.Value, bool) {
	if def.DefaultValue == nil {
		return directory.Value{}, false
	}
	decoded, err := directory.Decode(def.Type, *def.DefaultValue)
	if err != nil {
		s.logger.Error("attribute default failed to decode",
			slog.String("attribute", def.Name),
			slog.Any("error", err))
		return directory.Value{}, false
	}
	return decoded, true
}
