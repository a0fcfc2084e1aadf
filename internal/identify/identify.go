// Package identify maps an incoming request to the tenant that owns it.
package identify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// ErrNoMatch means no active tenant owns the request.
var ErrNoMatch = errors.New("no tenant matches request")

const (
	StrategyHostname = "hostname"
	StrategyHeader   = "header"
	StrategyPath     = "path"
)

const (
	DefaultHeader     = "X-Tenant-Key"
	DefaultPathPrefix = "/t/"
)

// Identifier resolves the tenant for a request. It returns ErrNoMatch when
// no active tenant owns it; any other error is an internal failure.
type Identifier interface {
	Identify(r *http.Request) (*tenant.Tenant, error)
}

// Lookup is the read side of the tenant registry.
type Lookup interface {
	Find(ctx context.Context, key string) (*tenant.Tenant, error)
	FindByHostname(ctx context.Context, host string) (*tenant.Tenant, error)
}

type options struct {
	trustForwarded bool
	header         string
	pathPrefix     string
	metrics        *telemetry.Metrics
}

// Option configures an Identifier built by New.
type Option func(*options)

// TrustForwardedHost makes hostname identification prefer X-Forwarded-Host.
// Enable it only behind a proxy that sets the header.
func TrustForwardedHost(trust bool) Option {
	return func(o *options) { o.trustForwarded = trust }
}

func WithHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.header = name
		}
	}
}

func WithPathPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.pathPrefix = prefix
		}
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the Identifier for strategy.
func New(strategy string, lookup Lookup, opts ...Option) (Identifier, error) {
	o := options{header: DefaultHeader, pathPrefix: DefaultPathPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	switch strategy {
	case StrategyHostname, "":
		return &HostnameIdentifier{lookup: lookup, trustForwarded: o.trustForwarded, metrics: o.metrics}, nil
	case StrategyHeader:
		return &HeaderIdentifier{lookup: lookup, header: o.header, metrics: o.metrics}, nil
	case StrategyPath:
		return &PathIdentifier{lookup: lookup, prefix: o.pathPrefix, metrics: o.metrics}, nil
	default:
		return nil, fmt.Errorf("unknown identification strategy %q", strategy)
	}
}

// matched converts a registry lookup result into an identification result.
// Deleted tenants never match.
func matched(t *tenant.Tenant, err error) (*tenant.Tenant, error) {
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrNoMatch
		}
		return nil, err
	}
	if !t.Active() {
		return nil, ErrNoMatch
	}
	return t, nil
}

func record(m *telemetry.Metrics, strategy string, err error) {
	switch {
	case err == nil:
		m.Identified(strategy, "matched")
	case errors.Is(err, ErrNoMatch):
		m.Identified(strategy, "no_match")
	default:
		m.Identified(strategy, "error")
	}
}

// NoMatchHandler answers requests no tenant owns. It never falls through to
// a default tenant.
func NoMatchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not identified"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
