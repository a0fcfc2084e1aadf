package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

type eventLog struct {
	mu     sync.Mutex
	events []tenant.Event
}

func (l *eventLog) Name() string { return "recorder" }

func (l *eventLog) Fire(_ context.Context, ev tenant.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) count(kind tenant.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func newService(t *testing.T, cfg registry.Config, opts ...lifecycle.Option) (*registry.Service, *lifecycle.Dispatcher, *eventLog) {
	t.Helper()
	d := lifecycle.NewDispatcher(opts...)
	rec := &eventLog{}
	d.Register(rec)
	return registry.New(registry.NewMemoryBackend(), d, cfg, nil), d, rec
}

func TestService_CreateAssignsKey(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{CompactKeys: true})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Name: "Acme", Hostnames: []string{"A.Example.com"}})
	require.NoError(t, err)
	assert.Len(t, created.Key, 32)
	assert.Equal(t, []string{"a.example.com"}, created.Hostnames)
	assert.Equal(t, tenant.StateActive, created.State)
	assert.Equal(t, 1, rec.count(tenant.KindCreated))

	got, err := svc.Find(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)
}

func TestService_ScenarioA_HostnameResolution(t *testing.T) {
	svc, _, _ := newService(t, registry.Config{})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"a.example.com"}})
	require.NoError(t, err)

	got, err := svc.FindByHostname(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)

	_, err = svc.FindByHostname(ctx, "b.example.com")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestService_ScenarioB_DuplicateHostname(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	first, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"x.test"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, tenant.Attributes{Hostnames: []string{"other.test", "x.test"}})
	assert.ErrorIs(t, err, tenant.ErrDuplicateHostname)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.Key, all[0].Key)

	owner, err := svc.FindByHostname(ctx, "x.test")
	require.NoError(t, err)
	assert.Equal(t, first.Key, owner.Key)

	_, err = svc.FindByHostname(ctx, "other.test")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	assert.Equal(t, 1, rec.count(tenant.KindCreated))
}

func TestService_UpdateDuplicateHostnameLeavesStateUnchanged(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	a, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"a.test"}})
	require.NoError(t, err)
	b, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"b.test"}})
	require.NoError(t, err)

	_, err = svc.Update(ctx, b.Key, tenant.Changes{Hostnames: []string{"b2.test", "a.test"}})
	assert.ErrorIs(t, err, tenant.ErrDuplicateHostname)

	got, err := svc.Find(ctx, b.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.test"}, got.Hostnames)

	owner, err := svc.FindByHostname(ctx, "a.test")
	require.NoError(t, err)
	assert.Equal(t, a.Key, owner.Key)
	_, err = svc.FindByHostname(ctx, "b2.test")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	assert.Zero(t, rec.count(tenant.KindUpdated))
}

func TestService_UpdateMovesHostnames(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	a, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"old.test"}})
	require.NoError(t, err)

	name := "renamed"
	updated, err := svc.Update(ctx, a.Key, tenant.Changes{Name: &name, Hostnames: []string{"new.test", "old.test"}})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	_, err = svc.Update(ctx, a.Key, tenant.Changes{Hostnames: []string{"new.test"}})
	require.NoError(t, err)

	_, err = svc.FindByHostname(ctx, "old.test")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	got, err := svc.FindByHostname(ctx, "new.test")
	require.NoError(t, err)
	assert.Equal(t, a.Key, got.Key)
	assert.Equal(t, 2, rec.count(tenant.KindUpdated))

	// a released hostname can be claimed by another tenant
	_, err = svc.Create(ctx, tenant.Attributes{Hostnames: []string{"old.test"}})
	assert.NoError(t, err)
}

func TestService_ScenarioC_CreateDeleteEvents(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"c.test"}})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count(tenant.KindCreated))

	require.NoError(t, svc.Delete(ctx, created.Key))
	assert.Equal(t, 1, rec.count(tenant.KindDeleted))
	assert.Equal(t, 1, rec.count(tenant.KindCreated))

	kept, err := svc.Find(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, tenant.StateDeleted, kept.State)

	_, err = svc.FindByHostname(ctx, "c.test")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestService_DeletedIsTerminal(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"d.test"}})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.Key))

	name := "back"
	_, err = svc.Update(ctx, created.Key, tenant.Changes{Name: &name})
	assert.ErrorIs(t, err, tenant.ErrTenantDeleted)

	err = svc.Delete(ctx, created.Key)
	assert.ErrorIs(t, err, tenant.ErrTenantDeleted)
	assert.Equal(t, 1, rec.count(tenant.KindDeleted))
}

func TestService_HardDelete(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{HardDelete: true})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"h.test"}})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, created.Key))

	_, err = svc.Find(ctx, created.Key)
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	require.Equal(t, 1, rec.count(tenant.KindDeleted))

	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	assert.Equal(t, tenant.StateDeleted, last.Tenant().State)
}

func TestService_NotFound(t *testing.T) {
	svc, _, _ := newService(t, registry.Config{})
	ctx := context.Background()

	_, err := svc.Find(ctx, "missing")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	_, err = svc.Update(ctx, "missing", tenant.Changes{})
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "missing"), tenant.ErrNotFound)
}

func TestService_InvalidHostnameRejected(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})

	_, err := svc.Create(context.Background(), tenant.Attributes{Hostnames: []string{"bad host"}})
	assert.ErrorIs(t, err, tenant.ErrInvalidHostname)
	assert.Zero(t, rec.count(tenant.KindCreated))
}

func TestService_HookFailureReportsPartialMutation(t *testing.T) {
	d := lifecycle.NewDispatcher()
	d.Register(lifecycle.HookFunc{HookName: "provisioner", Fn: func(context.Context, tenant.Event) error {
		return errors.New("database server unreachable")
	}}, tenant.KindCreated)
	svc := registry.New(registry.NewMemoryBackend(), d, registry.Config{}, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"p.test"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrPartiallyApplied)
	assert.ErrorIs(t, err, lifecycle.ErrHookFailed)
	require.NotNil(t, created)

	var hookErr *lifecycle.HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "provisioner", hookErr.Hook)

	// the record itself is durable
	got, err := svc.Find(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)
}

func TestService_KeyCollisionRetries(t *testing.T) {
	backend := registry.NewMemoryBackend()
	d := lifecycle.NewDispatcher()
	svc := registry.New(backend, d, registry.Config{KeyAttempts: 3}, nil)
	ctx := context.Background()

	existing, err := svc.Create(ctx, tenant.Attributes{Name: "existing"})
	require.NoError(t, err)

	keys := []string{existing.Key, existing.Key, "fresh-key"}
	var i int
	registry.SetKeyGenerator(svc, func(bool) string {
		k := keys[i]
		i++
		return k
	})

	created, err := svc.Create(ctx, tenant.Attributes{Name: "second"})
	require.NoError(t, err)
	assert.Equal(t, "fresh-key", created.Key)

	got, err := svc.Find(ctx, existing.Key)
	require.NoError(t, err)
	assert.Equal(t, "existing", got.Name, "colliding key must not overwrite")
}

func TestService_KeyCollisionGivesUp(t *testing.T) {
	svc, _, _ := newService(t, registry.Config{KeyAttempts: 2})
	ctx := context.Background()

	existing, err := svc.Create(ctx, tenant.Attributes{})
	require.NoError(t, err)
	registry.SetKeyGenerator(svc, func(bool) string { return existing.Key })

	_, err = svc.Create(ctx, tenant.Attributes{})
	assert.ErrorIs(t, err, tenant.ErrKeyCollision)
}

func TestService_ReentrantMutationRejected(t *testing.T) {
	d := lifecycle.NewDispatcher()
	svc := registry.New(registry.NewMemoryBackend(), d, registry.Config{}, nil)

	var innerErr error
	d.Register(lifecycle.HookFunc{HookName: "mutates", Fn: func(ctx context.Context, ev tenant.Event) error {
		_, innerErr = svc.Create(ctx, tenant.Attributes{Hostnames: []string{"inner.test"}})
		return nil
	}}, tenant.KindCreated)

	_, err := svc.Create(context.Background(), tenant.Attributes{Hostnames: []string{"outer.test"}})
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, registry.ErrReentrantMutation)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestService_ReentrantOptInStillRejectsSameKey(t *testing.T) {
	d := lifecycle.NewDispatcher(lifecycle.AllowReentrant(3))
	svc := registry.New(registry.NewMemoryBackend(), d, registry.Config{}, nil)

	var sameKeyErr, otherErr error
	d.Register(lifecycle.HookFunc{HookName: "mutates", Fn: func(ctx context.Context, ev tenant.Event) error {
		name := "touched"
		_, sameKeyErr = svc.Update(ctx, ev.Key(), tenant.Changes{Name: &name})
		_, otherErr = svc.Create(ctx, tenant.Attributes{Name: "sibling"})
		return nil
	}}, tenant.KindCreated)

	_, err := svc.Create(context.Background(), tenant.Attributes{Name: "root"})
	require.NoError(t, err)
	assert.ErrorIs(t, sameKeyErr, registry.ErrReentrantMutation)
	assert.NoError(t, otherErr)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3, "root, sibling, and the sibling's own nested sibling")
}

func TestService_ConcurrentCreatesSameHostname(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"race.test"}})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, tenant.ErrDuplicateHostname)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, rec.count(tenant.KindCreated))
}

func TestService_ConcurrentUpdatesSameKeySerialized(t *testing.T) {
	svc, _, rec := newService(t, registry.Config{})
	ctx := context.Background()

	created, err := svc.Create(ctx, tenant.Attributes{Hostnames: []string{"s.test"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("n%d", i)
			_, err := svc.Update(ctx, created.Key, tenant.Changes{Name: &name})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, rec.count(tenant.KindUpdated))
}
