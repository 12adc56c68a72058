// Package manifest implements manifest registration: a service declares its
// roles and attribute schemas as one versioned unit, and the registrar
// reconciles the durable store to match. Reconciliation is additive only;
// removing authorization vocabulary is a separate administrative operation,
// never a side effect of re-registration.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Populator schedules bulk cache population after a committed registration.
type Populator interface {
	EnqueuePopulate(ctx context.Context, service string) error
}

// Store is the slice of the durable store registration writes through.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, directory.TxStore) error) error
	GetServiceByName(ctx context.Context, name string) (directory.Service, error)
	ActiveManifest(ctx context.Context, serviceID int64) (directory.ServiceManifest, error)
}

// Registrar accepts manifest submissions.
type Registrar struct {
	store     Store
	populator Populator
	validate  *validator.Validate
	logger    *slog.Logger
	titler    cases.Caser
}

// NewRegistrar constructs a Registrar. populator may be nil; registration
// then relies on lazy cache misses alone.
func NewRegistrar(store Store, populator Populator, logger *slog.Logger) *Registrar {
	return &Registrar{
		store:     store,
		populator: populator,
		validate:  validator.New(),
		logger:    logger,
		titler:    cases.Title(language.English),
	}
}

// Register validates and applies one manifest submission inside a single
// transaction, then schedules cache population for the service. The new
// manifest version is previous active + 1, and the previous active manifest
// is deactivated.
func (r *Registrar) Register(ctx context.Context, body Body, submittedBy string) (directory.ServiceManifest, directory.Service, error) {
	if err := r.validateBody(body); err != nil {
		return directory.ServiceManifest{}, directory.Service{}, err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return directory.ServiceManifest{}, directory.Service{}, fmt.Errorf("manifest: encode body: %w", err)
	}

	var (
		manifest directory.ServiceManifest
		service  directory.Service
	)
	err = r.store.WithTx(ctx, func(ctx context.Context, tx directory.TxStore) error {
		service, err = tx.UpsertService(ctx, body.Service, r.displayName(body.DisplayName, body.Service), body.Description)
		if err != nil {
			return fmt.Errorf("manifest: upsert service: %w", err)
		}

		for _, decl := range body.Roles {
			if _, err := tx.UpsertRole(ctx, service.ID, directory.RoleSpec{
				Name:        decl.Name,
				DisplayName: r.displayName(decl.DisplayName, decl.Name),
				Description: decl.Description,
				IsGlobal:    decl.IsGlobal,
			}); err != nil {
				return fmt.Errorf("manifest: upsert role %q: %w", decl.Name, err)
			}
		}

		for _, decl := range body.Attributes {
			scope := &service.ID
			if decl.IsGlobal {
				scope = nil
			}
			if _, err := tx.UpsertDefinition(ctx, scope, directory.DefinitionSpec{
				Name:         decl.Name,
				DisplayName:  r.displayName(decl.DisplayName, decl.Name),
				Description:  decl.Description,
				Type:         directory.AttributeType(decl.Type),
				IsRequired:   decl.IsRequired,
				DefaultValue: decl.DefaultValue,
			}); err != nil {
				return fmt.Errorf("manifest: upsert attribute %q: %w", decl.Name, err)
			}
		}

		previous, err := tx.ActiveManifestVersion(ctx, service.ID)
		if err != nil {
			return fmt.Errorf("manifest: active version: %w", err)
		}
		if err := tx.DeactivateManifests(ctx, service.ID); err != nil {
			return fmt.Errorf("manifest: deactivate previous: %w", err)
		}
		manifest, err = tx.InsertManifest(ctx, directory.ServiceManifest{
			ServiceID:   service.ID,
			Version:     previous + 1,
			Body:        raw,
			SubmittedBy: submittedBy,
		})
		if err != nil {
			return fmt.Errorf("manifest: insert: %w", err)
		}
		if err := tx.SetServiceVersion(ctx, service.ID, manifest.Version); err != nil {
			return fmt.Errorf("manifest: set service version: %w", err)
		}
		service.ManifestVersion = manifest.Version
		return nil
	})
	if err != nil {
		return directory.ServiceManifest{}, directory.Service{}, err
	}

	// Population runs in the background; a failed enqueue is repaired by the
	// next natural cache miss per principal.
	if r.populator != nil {
		if err := r.populator.EnqueuePopulate(ctx, service.Name); err != nil {
			r.logger.Warn("cache population enqueue failed",
				slog.String("service", service.Name),
				slog.Any("error", err))
		}
	}

	return manifest, service, nil
}

// ActiveManifest returns the active manifest for a service.
func (r *Registrar) ActiveManifest(ctx context.Context, service string) (directory.ServiceManifest, error) {
	svc, err := r.store.GetServiceByName(ctx, service)
	if err != nil {
		return directory.ServiceManifest{}, err
	}
	return r.store.ActiveManifest(ctx, svc.ID)
}

func (r *Registrar) validateBody(body Body) error {
	if strings.TrimSpace(body.Service) == "" {
		return shared.NewValidationError("service", "is required")
	}
	if !slugPattern.MatchString(body.Service) {
		return shared.NewValidationError("service", "must be a lowercase slug")
	}
	if err := r.validate.Struct(body); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return shared.NewValidationError(strings.ToLower(invalid[0].Field()), "is invalid")
		}
		return shared.NewValidationError("body", "is invalid")
	}
	for _, decl := range body.Attributes {
		t := directory.AttributeType(decl.Type)
		if !directory.KnownType(t) {
			return shared.NewValidationError("attributes."+decl.Name+".type", "unknown type "+decl.Type)
		}
		if decl.DefaultValue != nil {
			if _, err := directory.Decode(t, *decl.DefaultValue); err != nil {
				return shared.NewValidationError("attributes."+decl.Name+".default_value", "does not decode as "+decl.Type)
			}
		}
	}
	return nil
}

// displayName falls back to a titled form of the slug when the declaration
// omits one.
func (r *Registrar) displayName(declared, slug string) string {
	if strings.TrimSpace(declared) != "" {
		return declared
	}
	cleaned := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return r.titler.String(cleaned)
}
