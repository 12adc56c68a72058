package gateway

import (
	"context"

	"github.com/sentinel-authz/sentinel/internal/directory"
)

type attributesContextKey struct{}

// ContextWithAttributes stores the resolved attribute set in context.
func ContextWithAttributes(ctx context.Context, set *directory.ResolvedAttributeSet) context.Context {
	return context.WithValue(ctx, attributesContextKey{}, set)
}

// AttributesFromContext extracts the resolved attribute set, or nil when the
// request proceeded attribute-less.
func AttributesFromContext(ctx context.Context) *directory.ResolvedAttributeSet {
	set, _ := ctx.Value(attributesContextKey{}).(*directory.ResolvedAttributeSet)
	return set
}
