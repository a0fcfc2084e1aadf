package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

func newHandlerMux(t *testing.T, d *lifecycle.Dispatcher) (*http.ServeMux, *registry.Service) {
	t.Helper()
	svc := registry.New(registry.NewMemoryBackend(), d, registry.Config{}, nil)
	mux := http.NewServeMux()
	registry.NewHandler(svc).RegisterRoutes(mux)
	return mux, svc
}

func TestHandler_CreateAndGet(t *testing.T) {
	mux, _ := newHandlerMux(t, lifecycle.NewDispatcher())

	body := `{"name":"Acme","hostnames":["acme.example.com"],"overrides":{"database":"acme","password":"pw"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "pw")

	var created tenant.Tenant
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.NotEmpty(t, created.Key)
	assert.Equal(t, []string{"acme.example.com"}, created.Hostnames)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+created.Key, nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Acme")
}

func TestHandler_DuplicateHostnameConflict(t *testing.T) {
	mux, svc := newHandlerMux(t, lifecycle.NewDispatcher())
	_, err := svc.Create(context.Background(), tenant.Attributes{Hostnames: []string{"x.test"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(`{"hostnames":["x.test"]}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_InvalidBodyAndHostname(t *testing.T) {
	mux, _ := newHandlerMux(t, lifecycle.NewDispatcher())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"invalid hostname", `{"hostnames":["not a host"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandler_UpdateDeleteFlow(t *testing.T) {
	mux, svc := newHandlerMux(t, lifecycle.NewDispatcher())
	created, err := svc.Create(context.Background(), tenant.Attributes{Hostnames: []string{"u.test"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/tenants/"+created.Key, strings.NewReader(`{"name":"renamed"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "renamed")

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/tenants/"+created.Key, nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/v1/tenants/"+created.Key, strings.NewReader(`{"name":"again"}`))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusGone, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/tenants/missing", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_PartialFailureReportsHook(t *testing.T) {
	d := lifecycle.NewDispatcher()
	d.Register(lifecycle.HookFunc{HookName: "audit", Fn: func(context.Context, tenant.Event) error { return nil }})
	d.Register(lifecycle.HookFunc{HookName: "provisioner", Fn: func(context.Context, tenant.Event) error {
		return errors.New("connection refused")
	}}, tenant.KindCreated)
	mux, _ := newHandlerMux(t, d)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(`{"hostnames":["p.test"]}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "provisioner", body["hook"])
	assert.Equal(t, "created", body["event"])
	assert.Equal(t, []any{"audit"}, body["completed"])
	assert.NotContains(t, body["error"], "connection refused")
	assert.NotNil(t, body["tenant"])
}

func TestHandler_ListEmpty(t *testing.T) {
	mux, _ := newHandlerMux(t, lifecycle.NewDispatcher())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
