package gateway_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-authz/sentinel/internal/directory"
	"github.com/sentinel-authz/sentinel/internal/gateway"
	"github.com/sentinel-authz/sentinel/internal/policy"
	"github.com/sentinel-authz/sentinel/internal/shared"
	_ "github.com/sentinel-authz/sentinel/testing"
)

var testSecret = []byte("test-secret")

type stubLoader struct {
	sets map[uuid.UUID]*directory.ResolvedAttributeSet
	err  error
}

func (s *stubLoader) Load(_ context.Context, id uuid.UUID, service string) (*directory.ResolvedAttributeSet, error) {
	if s.err != nil {
		return nil, s.err
	}
	set, ok := s.sets[id]
	if !ok {
		return &directory.ResolvedAttributeSet{PrincipalID: id, Service: service, Roles: []string{}}, nil
	}
	return set, nil
}

type stubDirectory struct {
	byUsername map[string]directory.Principal
}

func (s *stubDirectory) GetPrincipalByUsername(_ context.Context, username string) (directory.Principal, error) {
	p, ok := s.byUsername[username]
	if !ok {
		return directory.Principal{}, shared.ErrNotFound
	}
	return p, nil
}

func signToken(t *testing.T, secret []byte, claims gateway.Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

// capture records what the downstream handler saw in the request context.
type capture struct {
	principal shared.Principal
	attrs     *directory.ResolvedAttributeSet
}

func runRequest(t *testing.T, g *gateway.Gateway, mutate func(*http.Request)) (*capture, *httptest.ResponseRecorder) {
	t.Helper()
	got := &capture{}
	handler := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.principal = shared.PrincipalFromContext(r.Context())
		got.attrs = gateway.AttributesFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return got, rec
}

func newTestGateway(loader *stubLoader, dir *stubDirectory) *gateway.Gateway {
	return gateway.New(gateway.Config{
		Secret:     testSecret,
		CookieName: "sentinel_token",
		Service:    "billing",
	}, loader, dir, slog.Default())
}

func TestMiddlewareNoTokenIsAnonymous(t *testing.T) {
	g := newTestGateway(&stubLoader{}, &stubDirectory{})
	got, rec := runRequest(t, g, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.principal.Anonymous)
	assert.Nil(t, got.attrs)
}

func TestMiddlewareBadSignatureIsAnonymous(t *testing.T) {
	g := newTestGateway(&stubLoader{}, &stubDirectory{})
	raw := signToken(t, []byte("wrong-secret"), gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	})
	got, rec := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.principal.Anonymous)
}

func TestMiddlewareExpiredTokenIsAnonymous(t *testing.T) {
	g := newTestGateway(&stubLoader{}, &stubDirectory{})
	raw := signToken(t, testSecret, gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	got, _ := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})
	assert.True(t, got.principal.Anonymous)
}

func TestMiddlewareValidTokenAttachesAttributes(t *testing.T) {
	alice := uuid.New()
	set := &directory.ResolvedAttributeSet{
		PrincipalID: alice,
		Service:     "billing",
		Roles:       []string{"billing_admin"},
	}
	g := newTestGateway(&stubLoader{sets: map[uuid.UUID]*directory.ResolvedAttributeSet{alice: set}}, &stubDirectory{})

	raw := signToken(t, testSecret, gateway.Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.String()},
	})
	got, rec := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, got.principal.Anonymous)
	assert.Equal(t, alice, got.principal.ID)
	assert.Equal(t, "alice", got.principal.Username)
	require.NotNil(t, got.attrs)
	assert.True(t, got.attrs.HasRole("billing_admin"))
}

func TestMiddlewareCookieFallback(t *testing.T) {
	alice := uuid.New()
	g := newTestGateway(&stubLoader{}, &stubDirectory{})
	raw := signToken(t, testSecret, gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.String()},
	})
	got, _ := runRequest(t, g, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "sentinel_token", Value: raw})
	})
	assert.Equal(t, alice, got.principal.ID)
}

func TestMiddlewareUsernameFallback(t *testing.T) {
	alice := uuid.New()
	dir := &stubDirectory{byUsername: map[string]directory.Principal{
		"alice": {ID: alice, Username: "alice"},
	}}
	g := newTestGateway(&stubLoader{}, dir)

	raw := signToken(t, testSecret, gateway.Claims{Username: "alice"})
	got, _ := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})
	assert.False(t, got.principal.Anonymous)
	assert.Equal(t, alice, got.principal.ID)

	// Unknown username degrades to anonymous rather than failing the request.
	raw = signToken(t, testSecret, gateway.Claims{Username: "mallory"})
	got, rec := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.principal.Anonymous)
}

func TestMiddlewareLoaderFailureIsAttributeLess(t *testing.T) {
	alice := uuid.New()
	g := newTestGateway(&stubLoader{err: shared.ErrUpstreamUnavailable}, &stubDirectory{})
	raw := signToken(t, testSecret, gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.String()},
	})
	got, rec := runRequest(t, g, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+raw)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, got.principal.Anonymous, "authentication survives an attribute outage")
	assert.Nil(t, got.attrs)
}

func TestRequirePolicy(t *testing.T) {
	registry := policy.NewRegistry(slog.Default())
	registry.Register("billing.admin", policy.RequireRole("billing_admin"))

	alice := uuid.New()
	set := &directory.ResolvedAttributeSet{PrincipalID: alice, Roles: []string{"billing_admin"}}
	g := newTestGateway(&stubLoader{sets: map[uuid.UUID]*directory.ResolvedAttributeSet{alice: set}}, &stubDirectory{})

	handler := g.Middleware(gateway.RequirePolicy(registry, "billing.admin")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	// Anonymous request: denied.
	req := httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Authenticated with the role: allowed.
	raw := signToken(t, testSecret, gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.String()},
	})
	req = httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Authenticated without the role: denied.
	bob := uuid.New()
	raw = signToken(t, testSecret, gateway.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: bob.String()},
	})
	req = httptest.NewRequest(http.MethodGet, "/api/admin", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
