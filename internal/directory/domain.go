package directory

import (
	"time"

	"github.com/google/uuid"
)

// Service is a registered participant in the authorization system.
type Service struct {
	ID              int64
	Name            string
	DisplayName     string
	Description     string
	ManifestVersion int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Role is a named grantable unit scoped to one service.
type Role struct {
	ID          int64
	ServiceID   int64
	Name        string
	DisplayName string
	Description string
	IsGlobal    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Principal is an identity authorization decisions are made about. The
// identity issuer owns the credential lifecycle; this table only mirrors the
// fields needed for resolution and username fallback lookup.
type Principal struct {
	ID          uuid.UUID
	Username    string
	DisplayName string
	CreatedAt   time.Time
}

// RoleAssignment links a principal to a role, optionally scoped to a
// resource. Expired assignments are excluded from reads but kept for audit.
type RoleAssignment struct {
	ID          int64
	PrincipalID uuid.UUID
	RoleID      int64
	ResourceID  *string
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
}

// Active reports whether the assignment is grantable at the given instant.
func (a RoleAssignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AttributeDefinition declares a typed attribute. ServiceID nil marks a
// global definition visible to every service scope.
type AttributeDefinition struct {
	ID           int64
	ServiceID    *int64
	Name         string
	DisplayName  string
	Description  string
	Type         AttributeType
	IsRequired   bool
	DefaultValue *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AttributeValue holds one encoded value for a (principal, scope, name)
// tuple. The encoding matches the definition's declared type; decoding
// happens once at resolution.
type AttributeValue struct {
	ID          int64
	PrincipalID uuid.UUID
	ServiceID   *int64
	Name        string
	Encoded     string
	UpdatedBy   string
	UpdatedAt   time.Time
}

// ServiceManifest is an immutable snapshot of one manifest submission.
// Exactly one manifest per service is active at any time.
type ServiceManifest struct {
	ID          int64
	ServiceID   int64
	Version     int
	Body        []byte
	SubmittedBy string
	SubmittedAt time.Time
	IsActive    bool
}

// ResolvedAttributeSet is the merged, defaulted, typed view of one
// principal's roles and attributes restricted to one service's visible
// scope. It is a derived projection, never a source of truth.
type ResolvedAttributeSet struct {
	PrincipalID uuid.UUID        `json:"principal_id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Service     string           `json:"service"`
	Roles       []string         `json:"roles"`
	Attributes  map[string]Value `json:"attributes"`
}

// HasRole reports whether the set contains the named role.
func (s *ResolvedAttributeSet) HasRole(name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Attribute returns the decoded value for name, if present.
func (s *ResolvedAttributeSet) Attribute(name string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.Attributes[name]
	return v, ok
}
