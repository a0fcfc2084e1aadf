package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Handler handles tenant management HTTP endpoints.
type Handler struct {
	reg Registry
}

// NewHandler creates a new tenant handler.
func NewHandler(reg Registry) *Handler {
	return &Handler{reg: reg}
}

// RegisterRoutes registers tenant management routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tenants", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tenants", h.HandleList)
	mux.HandleFunc("GET /api/v1/tenants/{key}", h.HandleGet)
	mux.HandleFunc("PATCH /api/v1/tenants/{key}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/v1/tenants/{key}", h.HandleDelete)
}

// HandleCreate creates a new tenant.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req tenant.Attributes
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	t, err := h.reg.Create(r.Context(), req)
	if err != nil {
		writeMutationError(w, t, err, "tenant creation failed")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

// HandleGet returns a tenant by key. Deleted tenants are still returned
// while their record is retained.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant key"})
		return
	}

	t, err := h.reg.Find(r.Context(), key)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching tenant failed"})
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleList returns all tenants in registry order.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.reg.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tenants failed"})
		return
	}

	if tenants == nil {
		tenants = []tenant.Tenant{}
	}

	writeJSON(w, http.StatusOK, tenants)
}

// HandleUpdate applies a partial update to a tenant.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req tenant.Changes
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	t, err := h.reg.Update(r.Context(), r.PathValue("key"), req)
	if err != nil {
		writeMutationError(w, t, err, "tenant update failed")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleDelete moves a tenant to the deleted state.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(r.Context(), r.PathValue("key")); err != nil {
		writeMutationError(w, nil, err, "tenant deletion failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMutationError maps registry errors to responses. A partially applied
// mutation reports the failing hook so operators can find provisioning gaps.
func writeMutationError(w http.ResponseWriter, t *tenant.Tenant, err error, fallback string) {
	var hookErr *lifecycle.HookError
	switch {
	case errors.Is(err, ErrPartiallyApplied) && errors.As(err, &hookErr):
		body := map[string]any{
			"error":     "tenant saved but provisioning did not complete",
			"hook":      hookErr.Hook,
			"event":     hookErr.Kind.String(),
			"completed": hookErr.Completed,
		}
		if t != nil {
			body["tenant"] = t
		}
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, tenant.ErrInvalidHostname):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, tenant.ErrDuplicateHostname):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, tenant.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "tenant not found"})
	case errors.Is(err, tenant.ErrTenantDeleted):
		writeJSON(w, http.StatusGone, map[string]string{"error": "tenant is deleted"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
