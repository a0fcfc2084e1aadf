package tenancy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/valinor-ai/tenantry/internal/connection"
	"github.com/valinor-ai/tenantry/internal/identify"
	"github.com/valinor-ai/tenantry/internal/platform/middleware"
	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Middleware resolves the tenant for every request and binds it to the
// request context. Requests no tenant owns go to noMatch. Failures answer
// with a generic message; details only reach the log.
func Middleware(resolver *Resolver, noMatch http.Handler, logger *slog.Logger) func(http.Handler) http.Handler {
	if noMatch == nil {
		noMatch = identify.NoMatchHandler()
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := resolver.Resolve(r)
			switch {
			case err == nil:
			case errors.Is(err, identify.ErrNoMatch):
				noMatch.ServeHTTP(w, r)
				return
			case errors.Is(err, connection.ErrConfigurationIncomplete),
				errors.Is(err, tenant.ErrTenantDeleted):
				logger.Warn("tenant unavailable", "host", r.Host, "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "tenant unavailable"})
				return
			default:
				logger.Error("tenant resolution failed", "host", r.Host, "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}

			middleware.SetLogTenant(r.Context(), tc.Tenant.Key)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
