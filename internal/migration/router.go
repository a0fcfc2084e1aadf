// Package migration decides where and whether tenant migrations run, and
// runs them.
package migration

import (
	"context"
	"sync"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Plan is the migration decision for one tenant.
type Plan struct {
	Path    string
	Enabled bool
}

// Router resolves migration plans. It is also a Deleted hook: once a tenant
// is deleted its migrations stay disabled, so it must be registered ahead
// of any hook that migrates.
type Router struct {
	path     string
	mu       sync.RWMutex
	disabled map[string]bool
}

// NewRouter routes every tenant to the shared migrations directory at path.
func NewRouter(path string) *Router {
	return &Router{path: path, disabled: make(map[string]bool)}
}

func (r *Router) Resolve(t *tenant.Tenant, kind tenant.EventKind) Plan {
	r.mu.RLock()
	disabled := r.disabled[t.Key]
	r.mu.RUnlock()

	return Plan{
		Path:    r.path,
		Enabled: t.Active() && kind != tenant.KindDeleted && !disabled,
	}
}

func (r *Router) Name() string { return "migration-router" }

func (r *Router) Fire(_ context.Context, ev tenant.Event) error {
	if ev.Kind() != tenant.KindDeleted {
		return nil
	}
	r.mu.Lock()
	r.disabled[ev.Key()] = true
	r.mu.Unlock()
	return nil
}
