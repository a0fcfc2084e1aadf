package identify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// lookupTimeout bounds a shared hostname lookup, which outlives the request
// that started it.
const lookupTimeout = 10 * time.Second

// HostnameIdentifier matches the request host against tenant hostnames.
// Hosts are compared lowercased with the port and trailing dot removed.
type HostnameIdentifier struct {
	lookup         Lookup
	trustForwarded bool
	metrics        *telemetry.Metrics
	group          singleflight.Group
}

func NewHostnameIdentifier(lookup Lookup, trustForwarded bool) *HostnameIdentifier {
	return &HostnameIdentifier{lookup: lookup, trustForwarded: trustForwarded}
}

func (h *HostnameIdentifier) Identify(r *http.Request) (*tenant.Tenant, error) {
	t, err := h.identify(r)
	record(h.metrics, StrategyHostname, err)
	return t, err
}

func (h *HostnameIdentifier) identify(r *http.Request) (*tenant.Tenant, error) {
	host, err := tenant.NormalizeHostname(h.requestHost(r))
	if err != nil {
		return nil, ErrNoMatch
	}

	// Concurrent lookups for one host share a single registry query. The
	// query runs detached from any one caller, and each caller waits only as
	// long as its own context allows.
	ctx := r.Context()
	ch := h.group.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return matched(h.lookup.FindByHostname(lctx, host))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tenant.Tenant).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostnameIdentifier) requestHost(r *http.Request) string {
	if h.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return first
		}
	}
	return r.Host
}
