package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Reprovision emits one Updated event per active tenant, in registry
// enumeration order, so hooks can bring every tenant's resources up to date
// (typically running pending tenant migrations). It stops at the first
// failing tenant and returns how many events were delivered.
func Reprovision(ctx context.Context, reg Registry, emitter Emitter) (int, error) {
	tenants, err := reg.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing tenants: %w", err)
	}

	delivered := 0
	for i := range tenants {
		t := &tenants[i]
		if !t.Active() {
			continue
		}
		if err := emitter.Emit(ctx, tenant.Updated(nil, t)); err != nil {
			return delivered, fmt.Errorf("reprovisioning tenant %s: %w", t.Key, err)
		}
		delivered++
	}
	return delivered, nil
}

// SeedRoot makes sure an active tenant answers hostname, creating one when
// none does. It returns the tenant and whether it was created.
func SeedRoot(ctx context.Context, reg Registry, name, hostname string) (*tenant.Tenant, bool, error) {
	t, err := reg.FindByHostname(ctx, hostname)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, tenant.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up root tenant: %w", err)
	}

	t, err = reg.Create(ctx, tenant.Attributes{Name: name, Hostnames: []string{hostname}})
	if err != nil {
		return t, t != nil, fmt.Errorf("creating root tenant: %w", err)
	}
	return t, true, nil
}
