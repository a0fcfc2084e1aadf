package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/valinor-ai/tenantry/internal/platform/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves audit query endpoints.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates an audit query handler.
func NewHandler(db database.Querier, store *Store) *Handler {
	return &Handler{db: db, store: store}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tenants/{key}/events", h.HandleListEvents)
}

// HandleListEvents returns the recorded lifecycle events of one tenant.
// Records outlive the tenant, so purged keys can still be queried.
// GET /api/v1/tenants/{key}/events?limit=50&action=tenant.updated&after=<RFC3339>
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "missing tenant key"})
		return
	}

	q := r.URL.Query()
	p := ListEventsParams{TenantKey: key, Limit: defaultListLimit}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200"})
			return
		}
		p.Limit = n
	}
	if raw := q.Get("action"); raw != "" {
		p.Action = &raw
	}
	if raw := q.Get("source"); raw != "" {
		p.Source = &raw
	}
	for name, dst := range map[string]**time.Time{"after": &p.After, "before": &p.Before} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name + " timestamp"})
			return
		}
		*dst = &ts
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
		return
	}

	events, err := h.store.ListEvents(r.Context(), h.db, p)
	if err != nil {
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":          e.ID,
			"tenant_key":  e.TenantKey,
			"action":      e.Action,
			"metadata":    e.Metadata,
			"source":      e.Source,
			"request_id":  e.RequestID,
			"occurred_at": e.OccurredAt,
		})
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
