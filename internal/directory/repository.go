package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-authz/sentinel/internal/platform/db"
)

// RoleSpec is a role declaration from a manifest body.
type RoleSpec struct {
	Name        string
	DisplayName string
	Description string
	IsGlobal    bool
}

// DefinitionSpec is an attribute declaration from a manifest body.
type DefinitionSpec struct {
	Name         string
	DisplayName  string
	Description  string
	Type         AttributeType
	IsRequired   bool
	DefaultValue *string
}

// Store is the read/write surface of the durable attribute store.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error

	GetServiceByName(ctx context.Context, name string) (Service, error)
	GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error)
	GetPrincipalByUsername(ctx context.Context, username string) (Principal, error)
	ListPrincipalIDs(ctx context.Context) ([]uuid.UUID, error)

	// ListDefinitions returns global definitions plus, when serviceID is
	// non-nil, that service's definitions.
	ListDefinitions(ctx context.Context, serviceID *int64) ([]AttributeDefinition, error)
	// ListValues returns the principal's global values plus, when serviceID
	// is non-nil, that service's values.
	ListValues(ctx context.Context, principalID uuid.UUID, serviceID *int64) ([]AttributeValue, error)
	// ListActiveRoleNames returns deduplicated names of non-expired role
	// assignments, filtered to one service when service is non-empty.
	ListActiveRoleNames(ctx context.Context, principalID uuid.UUID, service string, now time.Time) ([]string, error)

	GetRole(ctx context.Context, service, role string) (Role, error)
	GetDefinition(ctx context.Context, serviceID *int64, name string) (AttributeDefinition, error)
	CreateAssignment(ctx context.Context, a RoleAssignment) (RoleAssignment, error)
	DeleteAssignment(ctx context.Context, principalID uuid.UUID, roleID int64, resourceID *string) error
	UpsertValue(ctx context.Context, v AttributeValue) error
	ActiveManifest(ctx context.Context, serviceID int64) (ServiceManifest, error)
}

// TxStore is the mutation surface available inside one transaction. Manifest
// reconciliation runs entirely against it so partial application is never
// observable.
type TxStore interface {
	UpsertService(ctx context.Context, name, displayName, description string) (Service, error)
	UpsertRole(ctx context.Context, serviceID int64, spec RoleSpec) (Role, error)
	UpsertDefinition(ctx context.Context, serviceID *int64, spec DefinitionSpec) (AttributeDefinition, error)
	ActiveManifestVersion(ctx context.Context, serviceID int64) (int, error)
	DeactivateManifests(ctx context.Context, serviceID int64) error
	InsertManifest(ctx context.Context, m ServiceManifest) (ServiceManifest, error)
	SetServiceVersion(ctx context.Context, serviceID int64, version int) error
}

// querier matches both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

// WithTx executes fn inside one transaction; every TxStore mutation commits
// or rolls back atomically.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}
