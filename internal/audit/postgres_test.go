package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/valinor-ai/tenantry/internal/audit"
	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/platform/database"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

func TestAuditTrail_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tenantry_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(ctx, connStr))
	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := audit.NewStore()
	logger := audit.NewAsyncLogger(pool, store, audit.LoggerConfig{FlushInterval: 20 * time.Millisecond}, nil)

	d := lifecycle.NewDispatcher()
	d.Register(audit.NewHook(logger))
	reg := registry.New(registry.NewPostgresBackend(pool), d, registry.Config{HardDelete: true}, nil)

	created, err := reg.Create(ctx, tenant.Attributes{Name: "acme", Hostnames: []string{"acme.test"}})
	require.NoError(t, err)
	_, err = reg.Update(ctx, created.Key, tenant.Changes{Hostnames: []string{"acme2.test"}})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, created.Key))
	require.NoError(t, logger.Close())

	// the trail outlives the purged tenant
	events, err := store.ListEvents(ctx, pool, audit.ListEventsParams{TenantKey: created.Key, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, audit.ActionTenantDeleted, events[0].Action)
	assert.Equal(t, audit.ActionTenantCreated, events[2].Action)
	assert.Equal(t, []any{"acme2.test"}, events[1].Metadata[audit.MetadataHostnames])
	assert.Equal(t, []any{"acme.test"}, events[1].Metadata[audit.MetadataPreviousHostnames])

	action := audit.ActionTenantUpdated
	events, err = store.ListEvents(ctx, pool, audit.ListEventsParams{TenantKey: created.Key, Action: &action, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SourceSystem, events[0].Source)
}
