package manifest

// Body is the structured manifest a service submits at startup: its identity
// plus the roles and attribute schemas it declares.
type Body struct {
	Service         string          `json:"service" validate:"required"`
	DisplayName     string          `json:"display_name"`
	Description     string          `json:"description"`
	ManifestVersion int             `json:"manifest_version"`
	Roles           []RoleDecl      `json:"roles" validate:"dive"`
	Attributes      []AttributeDecl `json:"attributes" validate:"dive"`
}

// RoleDecl declares one role.
type RoleDecl struct {
	Name        string `json:"name" validate:"required"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	IsGlobal    bool   `json:"is_global"`
}

// AttributeDecl declares one typed attribute. IsGlobal registers the
// definition in the global scope instead of the submitting service's.
type AttributeDecl struct {
	Name         string  `json:"name" validate:"required"`
	DisplayName  string  `json:"display_name"`
	Description  string  `json:"description"`
	Type         string  `json:"type" validate:"required"`
	IsRequired   bool    `json:"is_required"`
	DefaultValue *string `json:"default_value"`
	IsGlobal     bool    `json:"is_global"`
}

// ServiceSummary is the registration response payload.
type ServiceSummary struct {
	Service         string `json:"service"`
	DisplayName     string `json:"display_name"`
	Description     string `json:"description"`
	ManifestVersion int    `json:"manifest_version"`
	IsActive        bool   `json:"is_active"`
}
