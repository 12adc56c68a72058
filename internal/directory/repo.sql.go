package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sentinel-authz/sentinel/internal/shared"
)

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

type queries struct {
	db querier
}

func (q queries) GetServiceByName(ctx context.Context, name string) (Service, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, name, display_name, description, manifest_version, is_active, created_at, updated_at
		FROM services WHERE name = $1`, name)
	var s Service
	if err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Description, &s.ManifestVersion, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Service{}, shared.ErrNotFound
		}
		return Service{}, err
	}
	return s, nil
}

func (q queries) GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, username, display_name, created_at FROM principals WHERE id = $1`, id)
	var p Principal
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, shared.ErrNotFound
		}
		return Principal{}, err
	}
	return p, nil
}

func (q queries) GetPrincipalByUsername(ctx context.Context, username string) (Principal, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, username, display_name, created_at FROM principals WHERE username = $1`, username)
	var p Principal
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, shared.ErrNotFound
		}
		return Principal{}, err
	}
	return p, nil
}

func (q queries) ListPrincipalIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM principals ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q queries) ListDefinitions(ctx context.Context, serviceID *int64) ([]AttributeDefinition, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, service_id, name, display_name, description, type, is_required, default_value, created_at, updated_at
		FROM attribute_definitions
		WHERE service_id IS NULL OR service_id = $1
		ORDER BY name`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []AttributeDefinition
	for rows.Next() {
		var d AttributeDefinition
		if err := rows.Scan(&d.ID, &d.ServiceID, &d.Name, &d.DisplayName, &d.Description, &d.Type, &d.IsRequired, &d.DefaultValue, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (q queries) ListValues(ctx context.Context, principalID uuid.UUID, serviceID *int64) ([]AttributeValue, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, principal_id, service_id, name, value, updated_by, updated_at
		FROM attribute_values
		WHERE principal_id = $1 AND (service_id IS NULL OR service_id = $2)
		ORDER BY name`, principalID, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var values []AttributeValue
	for rows.Next() {
		var v AttributeValue
		if err := rows.Scan(&v.ID, &v.PrincipalID, &v.ServiceID, &v.Name, &v.Encoded, &v.UpdatedBy, &v.UpdatedAt); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (q queries) ListActiveRoleNames(ctx context.Context, principalID uuid.UUID, service string, now time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT r.name
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		JOIN services s ON s.id = r.service_id
		WHERE ra.principal_id = $1
		  AND (ra.expires_at IS NULL OR ra.expires_at > $2)
		  AND ($3 = '' OR s.name = $3)
		ORDER BY r.name`, principalID, now, service)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (q queries) GetRole(ctx context.Context, service, role string) (Role, error) {
	row := q.db.QueryRow(ctx, `
		SELECT r.id, r.service_id, r.name, r.display_name, r.description, r.is_global, r.created_at, r.updated_at
		FROM roles r JOIN services s ON s.id = r.service_id
		WHERE s.name = $1 AND r.name = $2`, service, role)
	var r Role
	if err := row.Scan(&r.ID, &r.ServiceID, &r.Name, &r.DisplayName, &r.Description, &r.IsGlobal, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return r, nil
}

func (q queries) GetDefinition(ctx context.Context, serviceID *int64, name string) (AttributeDefinition, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, service_id, name, display_name, description, type, is_required, default_value, created_at, updated_at
		FROM attribute_definitions
		WHERE service_id IS NOT DISTINCT FROM $1 AND name = $2`, serviceID, name)
	var d AttributeDefinition
	if err := row.Scan(&d.ID, &d.ServiceID, &d.Name, &d.DisplayName, &d.Description, &d.Type, &d.IsRequired, &d.DefaultValue, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AttributeDefinition{}, shared.ErrNotFound
		}
		return AttributeDefinition{}, err
	}
	return d, nil
}

func (q queries) CreateAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO role_assignments (principal_id, role_id, resource_id, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, granted_at`, a.PrincipalID, a.RoleID, a.ResourceID, a.GrantedBy, a.ExpiresAt)
	if err := row.Scan(&a.ID, &a.GrantedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return RoleAssignment{}, shared.ErrAlreadyAssigned
		}
		return RoleAssignment{}, err
	}
	return a, nil
}

func (q queries) DeleteAssignment(ctx context.Context, principalID uuid.UUID, roleID int64, resourceID *string) error {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM role_assignments
		WHERE principal_id = $1 AND role_id = $2 AND resource_id IS NOT DISTINCT FROM $3`,
		principalID, roleID, resourceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (q queries) UpsertValue(ctx context.Context, v AttributeValue) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO attribute_values (principal_id, service_id, name, value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (principal_id, service_id, name)
		DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()`,
		v.PrincipalID, v.ServiceID, v.Name, v.Encoded, v.UpdatedBy)
	return err
}

func (q queries) ActiveManifest(ctx context.Context, serviceID int64) (ServiceManifest, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, service_id, version, body, submitted_by, submitted_at, is_active
		FROM service_manifests WHERE service_id = $1 AND is_active`, serviceID)
	var m ServiceManifest
	if err := row.Scan(&m.ID, &m.ServiceID, &m.Version, &m.Body, &m.SubmittedBy, &m.SubmittedAt, &m.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceManifest{}, shared.ErrNotFound
		}
		return ServiceManifest{}, err
	}
	return m, nil
}

func (q queries) UpsertService(ctx context.Context, name, displayName, description string) (Service, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO services (name, display_name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name)
		DO UPDATE SET display_name = EXCLUDED.display_name, description = EXCLUDED.description, updated_at = now()
		RETURNING id, name, display_name, description, manifest_version, is_active, created_at, updated_at`,
		name, displayName, description)
	var s Service
	if err := row.Scan(&s.ID, &s.Name, &s.DisplayName, &s.Description, &s.ManifestVersion, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Service{}, err
	}
	return s, nil
}

func (q queries) UpsertRole(ctx context.Context, serviceID int64, spec RoleSpec) (Role, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO roles (service_id, name, display_name, description, is_global)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service_id, name)
		DO UPDATE SET display_name = EXCLUDED.display_name, description = EXCLUDED.description,
			is_global = EXCLUDED.is_global, updated_at = now()
		RETURNING id, service_id, name, display_name, description, is_global, created_at, updated_at`,
		serviceID, spec.Name, spec.DisplayName, spec.Description, spec.IsGlobal)
	var r Role
	if err := row.Scan(&r.ID, &r.ServiceID, &r.Name, &r.DisplayName, &r.Description, &r.IsGlobal, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Role{}, err
	}
	return r, nil
}

func (q queries) UpsertDefinition(ctx context.Context, serviceID *int64, spec DefinitionSpec) (AttributeDefinition, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO attribute_definitions (service_id, name, display_name, description, type, is_required, default_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (service_id, name)
		DO UPDATE SET display_name = EXCLUDED.display_name, description = EXCLUDED.description,
			type = EXCLUDED.type, is_required = EXCLUDED.is_required,
			default_value = EXCLUDED.default_value, updated_at = now()
		RETURNING id, service_id, name, display_name, description, type, is_required, default_value, created_at, updated_at`,
		serviceID, spec.Name, spec.DisplayName, spec.Description, spec.Type, spec.IsRequired, spec.DefaultValue)
	var d AttributeDefinition
	if err := row.Scan(&d.ID, &d.ServiceID, &d.Name, &d.DisplayName, &d.Description, &d.Type, &d.IsRequired, &d.DefaultValue, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return AttributeDefinition{}, err
	}
	return d, nil
}

func (q queries) ActiveManifestVersion(ctx context.Context, serviceID int64) (int, error) {
	row := q.db.QueryRow(ctx, `
		SELECT version FROM service_manifests WHERE service_id = $1 AND is_active`, serviceID)
	var version int
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func (q queries) DeactivateManifests(ctx context.Context, serviceID int64) error {
	_, err := q.db.Exec(ctx, `
		UPDATE service_manifests SET is_active = false WHERE service_id = $1 AND is_active`, serviceID)
	return err
}

func (q queries) InsertManifest(ctx context.Context, m ServiceManifest) (ServiceManifest, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO service_manifests (service_id, version, body, submitted_by, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING id, submitted_at`, m.ServiceID, m.Version, m.Body, m.SubmittedBy)
	if err := row.Scan(&m.ID, &m.SubmittedAt); err != nil {
		return ServiceManifest{}, err
	}
	m.IsActive = true
	return m, nil
}

func (q queries) SetServiceVersion(ctx context.Context, serviceID int64, version int) error {
	_, err := q.db.Exec(ctx, `
		UPDATE services SET manifest_version = $2, updated_at = now() WHERE id = $1`, serviceID, version)
	return err
}
