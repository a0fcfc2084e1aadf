package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

// MemoryBackend keeps tenants in process memory. Reads take a shared lock;
// the hostname index makes FindByHostname O(1).
type MemoryBackend struct {
	mu      sync.RWMutex
	tenants map[string]*tenant.Tenant
	order   []string
	hosts   map[string]string // hostname -> tenant key, active tenants only
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tenants: make(map[string]*tenant.Tenant),
		hosts:   make(map[string]string),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[key]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryBackend) GetByHostname(_ context.Context, host string) (*tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.hosts[host]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return m.tenants[key].Clone(), nil
}

func (m *MemoryBackend) List(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tenant.Tenant, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, *m.tenants[key].Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Insert(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tenants[t.Key]; exists {
		return tenant.ErrKeyCollision
	}
	if err := m.checkHostsLocked(t); err != nil {
		return err
	}
	m.tenants[t.Key] = t.Clone()
	m.order = append(m.order, t.Key)
	m.indexLocked(t)
	return nil
}

func (m *MemoryBackend) Replace(_ context.Context, t *tenant.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.tenants[t.Key]
	if !ok {
		return tenant.ErrNotFound
	}
	if err := m.checkHostsLocked(t); err != nil {
		return err
	}
	m.unindexLocked(prev)
	m.tenants[t.Key] = t.Clone()
	m.indexLocked(t)
	return nil
}

func (m *MemoryBackend) Purge(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[key]
	if !ok {
		return tenant.ErrNotFound
	}
	m.unindexLocked(t)
	delete(m.tenants, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryBackend) checkHostsLocked(t *tenant.Tenant) error {
	if !t.Active() {
		return nil
	}
	for _, h := range t.Hostnames {
		if owner, taken := m.hosts[h]; taken && owner != t.Key {
			return fmt.Errorf("%w: %s", tenant.ErrDuplicateHostname, h)
		}
	}
	return nil
}

func (m *MemoryBackend) indexLocked(t *tenant.Tenant) {
	if !t.Active() {
		return
	}
	for _, h := range t.Hostnames {
		m.hosts[h] = t.Key
	}
}

func (m *MemoryBackend) unindexLocked(t *tenant.Tenant) {
	for _, h := range t.Hostnames {
		if m.hosts[h] == t.Key {
			delete(m.hosts, h)
		}
	}
}
