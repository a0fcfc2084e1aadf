package identify

import (
	"net/http"
	"strings"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// HeaderIdentifier resolves the tenant key carried in a request header.
type HeaderIdentifier struct {
	lookup  Lookup
	header  string
	metrics *telemetry.Metrics
}

func (h *HeaderIdentifier) Identify(r *http.Request) (*tenant.Tenant, error) {
	t, err := h.identify(r)
	record(h.metrics, StrategyHeader, err)
	return t, err
}

func (h *HeaderIdentifier) identify(r *http.Request) (*tenant.Tenant, error) {
	key := strings.TrimSpace(r.Header.Get(h.header))
	if key == "" {
		return nil, ErrNoMatch
	}
	return matched(h.lookup.Find(r.Context(), key))
}

// PathIdentifier resolves the tenant key from the first path segment after
// prefix, e.g. /t/{key}/orders.
type PathIdentifier struct {
	lookup  Lookup
	prefix  string
	metrics *telemetry.Metrics
}

func (p *PathIdentifier) Identify(r *http.Request) (*tenant.Tenant, error) {
	t, err := p.identify(r)
	record(p.metrics, StrategyPath, err)
	return t, err
}

func (p *PathIdentifier) identify(r *http.Request) (*tenant.Tenant, error) {
	rest, ok := strings.CutPrefix(r.URL.Path, p.prefix)
	if !ok {
		return nil, ErrNoMatch
	}
	key, _, _ := strings.Cut(rest, "/")
	if key == "" {
		return nil, ErrNoMatch
	}
	return matched(p.lookup.Find(r.Context(), key))
}
