package shared

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the identity attached to one request. Anonymous principals
// carry no attributes and are expected to be denied by fail-closed policies
// on protected operations.
type Principal struct {
	ID        uuid.UUID
	Username  string
	Anonymous bool
}

// AnonymousPrincipal is attached whenever credential verification fails or
// no credential is presented.
var AnonymousPrincipal = Principal{Anonymous: true}

type principalContextKey struct{}

// ContextWithPrincipal stores the request principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the request principal; absent means
// anonymous.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalContextKey{}).(Principal); ok {
		return p
	}
	return AnonymousPrincipal
}
