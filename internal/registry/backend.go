package registry

import (
	"context"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Backend is the durable tenant store behind a Service. Implementations
// enforce hostname uniqueness among active tenants atomically with the
// write, and return tenant.ErrDuplicateHostname or tenant.ErrKeyCollision
// without changing anything when a write would violate it.
type Backend interface {
	Get(ctx context.Context, key string) (*tenant.Tenant, error)
	// GetByHostname returns the active tenant owning host.
	GetByHostname(ctx context.Context, host string) (*tenant.Tenant, error)
	// List returns every tenant in creation order.
	List(ctx context.Context) ([]tenant.Tenant, error)
	Insert(ctx context.Context, t *tenant.Tenant) error
	// Replace overwrites an existing tenant. Hostnames of a tenant that is
	// no longer active are released.
	Replace(ctx context.Context, t *tenant.Tenant) error
	Purge(ctx context.Context, key string) error
}
