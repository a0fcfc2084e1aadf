package audit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valinor-ai/tenantry/internal/audit"
	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/platform/middleware"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *recordingLogger) Log(_ context.Context, e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingLogger) Close() error { return nil }

func (l *recordingLogger) recorded() []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Event(nil), l.events...)
}

func TestFromLifecycle(t *testing.T) {
	prev := &tenant.Tenant{Key: "k1", Name: "acme", Hostnames: []string{"old.test"}, State: tenant.StateActive}
	next := &tenant.Tenant{Key: "k1", Name: "acme", Hostnames: []string{"new.test"}, State: tenant.StateActive}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	e := audit.FromLifecycle(context.Background(), tenant.Updated(prev, next), now)
	assert.Equal(t, "k1", e.TenantKey)
	assert.Equal(t, audit.ActionTenantUpdated, e.Action)
	assert.Equal(t, audit.SourceSystem, e.Source)
	assert.Empty(t, e.RequestID)
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.Equal(t, []string{"new.test"}, e.Metadata[audit.MetadataHostnames])
	assert.Equal(t, []string{"old.test"}, e.Metadata[audit.MetadataPreviousHostnames])
	assert.Equal(t, "active", e.Metadata[audit.MetadataState])

	e = audit.FromLifecycle(context.Background(), tenant.Deleted(next), now)
	assert.Equal(t, audit.ActionTenantDeleted, e.Action)
	assert.NotContains(t, e.Metadata, audit.MetadataPreviousHostnames)
}

func TestFromLifecycle_RequestAttribution(t *testing.T) {
	var ctx context.Context
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctx = r.Context()
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants", nil)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, ctx)

	e := audit.FromLifecycle(ctx, tenant.Created(&tenant.Tenant{Key: "k1"}), time.Now())
	assert.Equal(t, audit.SourceAPI, e.Source)
	assert.Equal(t, "req-42", e.RequestID)
}

func TestHook_RecordsEveryMutation(t *testing.T) {
	rec := &recordingLogger{}
	d := lifecycle.NewDispatcher()
	d.Register(audit.NewHook(rec))
	reg := registry.New(registry.NewMemoryBackend(), d, registry.Config{}, nil)
	ctx := context.Background()

	created, err := reg.Create(ctx, tenant.Attributes{Name: "acme", Hostnames: []string{"acme.test"}})
	require.NoError(t, err)
	_, err = reg.Update(ctx, created.Key, tenant.Changes{Hostnames: []string{"acme2.test"}})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, created.Key))

	events := rec.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, audit.ActionTenantCreated, events[0].Action)
	assert.Equal(t, audit.ActionTenantUpdated, events[1].Action)
	assert.Equal(t, audit.ActionTenantDeleted, events[2].Action)
	for _, e := range events {
		assert.Equal(t, created.Key, e.TenantKey)
	}
}

func TestHook_NilLoggerRecordsNothing(t *testing.T) {
	h := audit.NewHook(nil)
	assert.Equal(t, "audit", h.Name())
	assert.NoError(t, h.Fire(context.Background(), tenant.Created(&tenant.Tenant{Key: "k1"})))
	assert.NoError(t, audit.NopLogger{}.Close())
}

func TestHandleListEvents_NilDB(t *testing.T) {
	mux := http.NewServeMux()
	audit.NewHandler(nil, audit.NewStore()).RegisterRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/k1/events?limit=10&action=tenant.created", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, w.Body.String())
}

func TestHandleListEvents_InvalidQuery(t *testing.T) {
	mux := http.NewServeMux()
	audit.NewHandler(nil, audit.NewStore()).RegisterRoutes(mux)

	for _, q := range []string{"limit=0", "limit=201", "limit=abc", "after=yesterday", "before=2026-13-01"} {
		t.Run(q, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/k1/events?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
