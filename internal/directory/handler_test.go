package directory_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-authz/sentinel/internal/directory"
)

type stubResolver struct {
	set *directory.ResolvedAttributeSet
	err error
}

func (s *stubResolver) Resolve(context.Context, uuid.UUID, string) (*directory.ResolvedAttributeSet, error) {
	return s.set, s.err
}

func newTestRouter(store *stubStore, resolver directory.AttributeResolver) chi.Router {
	grants := directory.NewGrants(store, nil, slog.Default())
	handler := directory.NewHandler(slog.Default(), grants, resolver)
	r := chi.NewRouter()
	r.Route("/api/principals", handler.MountRoutes)
	return r
}

func TestHandlerGrant(t *testing.T) {
	store := newStubStore()
	store.roles["billing/billing_admin"] = directory.Role{ID: 4, Name: "billing_admin"}
	router := newTestRouter(store, &stubResolver{})
	alice := uuid.New()

	body := `{"service":"billing","role":"billing_admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/principals/"+alice.String()+"/grants", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, store.assignments, 1)
	assert.Equal(t, alice, store.assignments[0].PrincipalID)

	// Same scope again conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/principals/"+alice.String()+"/grants", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerGrantBadPrincipalID(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubResolver{})
	req := httptest.NewRequest(http.MethodPost, "/api/principals/not-a-uuid/grants", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGrantUnknownRole(t *testing.T) {
	router := newTestRouter(newStubStore(), &stubResolver{})
	body := `{"service":"billing","role":"ghost"}`
	req := httptest.NewRequest(http.MethodPost, "/api/principals/"+uuid.NewString()+"/grants", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRevoke(t *testing.T) {
	store := newStubStore()
	store.roles["billing/billing_admin"] = directory.Role{ID: 4, Name: "billing_admin"}
	router := newTestRouter(store, &stubResolver{})
	alice := uuid.New()

	body := `{"service":"billing","role":"billing_admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/principals/"+alice.String()+"/grants", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/principals/"+alice.String()+"/grants", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.assignments)
}

func TestHandlerSetAttribute(t *testing.T) {
	store := newStubStore()
	store.services["billing"] = directory.Service{ID: 7, Name: "billing"}
	store.defs = []directory.AttributeDefinition{
		{ID: 1, ServiceID: intPtr(7), Name: "credit_limit", Type: directory.TypeInteger},
	}
	router := newTestRouter(store, &stubResolver{})
	alice := uuid.New()

	req := httptest.NewRequest(http.MethodPut, "/api/principals/"+alice.String()+"/attributes",
		strings.NewReader(`{"service":"billing","name":"credit_limit","value":"5000"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, store.values, 1)

	// A value that does not decode per the declared type is rejected.
	req = httptest.NewRequest(http.MethodPut, "/api/principals/"+alice.String()+"/attributes",
		strings.NewReader(`{"service":"billing","name":"credit_limit","value":"lots"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, store.values, 1)
}

func TestHandlerResolvedAttributes(t *testing.T) {
	alice := uuid.New()
	set := &directory.ResolvedAttributeSet{
		PrincipalID: alice,
		Username:    "alice",
		Service:     "billing",
		Roles:       []string{"billing_admin"},
		Attributes: map[string]directory.Value{
			"department": directory.StringValue("Finance"),
		},
	}
	router := newTestRouter(newStubStore(), &stubResolver{set: set})

	req := httptest.NewRequest(http.MethodGet, "/api/principals/"+alice.String()+"/attributes?service=billing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got directory.ResolvedAttributeSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, *set, got)
}
