// Package tenancy binds the identified tenant and its connection
// configuration to the request context.
package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/valinor-ai/tenantry/internal/connection"
	"github.com/valinor-ai/tenantry/internal/identify"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// ErrNoTenant is returned when tenant-scoped work runs without a bound
// tenant.
var ErrNoTenant = errors.New("no tenant bound to context")

// Context is the tenant a request runs as. It is immutable once bound.
type Context struct {
	Tenant     tenant.Tenant
	Connection connection.Configuration
}

type contextKey struct{}

func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(*Context)
	return tc, ok && tc != nil
}

// Resolver runs identification then configuration for a request.
type Resolver struct {
	identifier   identify.Identifier
	configurator *connection.Configurator
}

func NewResolver(identifier identify.Identifier, configurator *connection.Configurator) *Resolver {
	return &Resolver{identifier: identifier, configurator: configurator}
}

func (r *Resolver) Resolve(req *http.Request) (*Context, error) {
	t, err := r.identifier.Identify(req)
	if err != nil {
		return nil, err
	}
	cfg, err := r.configurator.Configure(req.Context(), t)
	if err != nil {
		return nil, err
	}
	return &Context{Tenant: *t, Connection: cfg}, nil
}

// WithConnection runs fn on a connection to the bound tenant's database.
func WithConnection(ctx context.Context, mgr *connection.Manager, fn func(*sql.Conn) error) error {
	tc, ok := FromContext(ctx)
	if !ok {
		return ErrNoTenant
	}
	return mgr.WithConnection(ctx, tc.Tenant.Key, tc.Connection, fn)
}
