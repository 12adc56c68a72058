// Package gateway ties a bearer credential to a cached attribute set for the
// duration of one request. Verification failures degrade to the anonymous
// principal and attribute lookup failures degrade to an attribute-less
// request; the gateway never fails the request pipeline itself.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/platform/httpx"
	"github.com/sentinel-authz/sentinel/internal/policy"
	"github.com/sentinel-authz/sentinel/internal/shared"
)

// AttributeLoader loads the resolved attribute set, falling back to direct
// resolution on cache miss.
type AttributeLoader interface {
	Load(ctx context.Context, principalID uuid.UUID, service string) (*directory.ResolvedAttributeSet, error)
}

// PrincipalLookup resolves a username to a principal when the token carries
// no id claim.
type PrincipalLookup interface {
	GetPrincipalByUsername(ctx context.Context, username string) (directory.Principal, error)
}

// Config holds gateway settings.
type Config struct {
	// Secret is the shared HS256 signing secret.
	Secret []byte
	// CookieName is consulted when no Authorization header is present.
	CookieName string
	// Service scopes attribute resolution to the embedding service.
	Service string
	// LoadTimeout bounds cache and store calls per request.
	LoadTimeout time.Duration
}

// Gateway authenticates inbound requests and attaches the principal and its
// resolved attribute set to the request context.
type Gateway struct {
	cfg       Config
	loader    AttributeLoader
	directory PrincipalLookup
	logger    *slog.Logger
}

// New constructs a Gateway.
func New(cfg Config, loader AttributeLoader, directory PrincipalLookup, logger *slog.Logger) *Gateway {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 2 * time.Second
	}
	return &Gateway{cfg: cfg, loader: loader, directory: directory, logger: logger}
}

// Middleware runs the per-request state machine: no token, token present,
// then verified or rejected. Rejected requests proceed as anonymous.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw := extractToken(r, g.cfg.CookieName)
		if raw == "" {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(ctx, shared.AnonymousPrincipal)))
			return
		}

		claims, err := verifyToken(raw, g.cfg.Secret)
		if err != nil {
			g.logger.Debug("token verification failed", slog.Any("error", err))
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(ctx, shared.AnonymousPrincipal)))
			return
		}

		principal, ok := g.identify(ctx, claims)
		if !ok {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(ctx, shared.AnonymousPrincipal)))
			return
		}
		ctx = shared.ContextWithPrincipal(ctx, principal)

		if set := g.loadAttributes(ctx, principal); set != nil {
			ctx = ContextWithAttributes(ctx, set)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identify derives the principal from verified claims: the subject claim
// when present, else a username lookup against the directory.
func (g *Gateway) identify(ctx context.Context, claims *Claims) (shared.Principal, bool) {
	if claims.Subject != "" {
		id, err := uuid.Parse(claims.Subject)
		if err == nil {
			return shared.Principal{ID: id, Username: claims.Username}, true
		}
		g.logger.Warn("token subject is not a principal id", slog.String("subject", claims.Subject))
	}
	if claims.Username == "" {
		return shared.AnonymousPrincipal, false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, g.cfg.LoadTimeout)
	defer cancel()
	p, err := g.directory.GetPrincipalByUsername(lookupCtx, claims.Username)
	if err != nil {
		g.logger.Warn("principal lookup by username failed",
			slog.String("username", claims.Username),
			slog.Any("error", err))
		return shared.AnonymousPrincipal, false
	}
	return shared.Principal{ID: p.ID, Username: p.Username}, true
}

// loadAttributes fetches the resolved set with a short timeout. Any failure
// returns nil: the request proceeds authenticated but attribute-less, and
// fail-closed policies deny whatever needed the missing attributes.
func (g *Gateway) loadAttributes(ctx context.Context, principal shared.Principal) *directory.ResolvedAttributeSet {
	loadCtx, cancel := context.WithTimeout(ctx, g.cfg.LoadTimeout)
	defer cancel()
	set, err := g.loader.Load(loadCtx, principal.ID, g.cfg.Service)
	if err != nil {
		g.logger.Warn("attribute load failed, proceeding without attributes",
			slog.String("principal_id", principal.ID.String()),
			slog.String("service", g.cfg.Service),
			slog.Any("error", err))
		return nil
	}
	return set
}

// RequirePolicy guards a route with a registered policy. The object is the
// request path; the action is the method.
func RequirePolicy(registry *policy.Registry, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := AttributesFromContext(r.Context())
			if !registry.Evaluate(r.Context(), name, attrs, r.URL.Path, r.Method) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
