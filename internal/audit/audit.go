// Package audit keeps a durable trail of tenant lifecycle events in the
// registry database.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/valinor-ai/tenantry/internal/platform/middleware"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Event is one recorded lifecycle change.
type Event struct {
	ID         uuid.UUID
	TenantKey  string
	Action     string // e.g. "tenant.created"
	Metadata   map[string]any
	Source     string // "api" or "system"
	RequestID  string
	OccurredAt time.Time
}

const (
	ActionTenantCreated = "tenant.created"
	ActionTenantUpdated = "tenant.updated"
	ActionTenantDeleted = "tenant.deleted"
)

const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

const (
	MetadataName              = "name"
	MetadataHostnames         = "hostnames"
	MetadataPreviousHostnames = "previous_hostnames"
	MetadataState             = "state"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

func action(kind tenant.EventKind) string {
	switch kind {
	case tenant.KindCreated:
		return ActionTenantCreated
	case tenant.KindUpdated:
		return ActionTenantUpdated
	default:
		return ActionTenantDeleted
	}
}

// FromLifecycle builds the audit record for ev. Mutations that arrived over
// HTTP carry their request id and are attributed to the API.
func FromLifecycle(ctx context.Context, ev tenant.Event, now time.Time) Event {
	t := ev.Tenant()
	meta := map[string]any{
		MetadataName:      t.Name,
		MetadataHostnames: t.Hostnames,
		MetadataState:     string(t.State),
	}
	if prev, ok := ev.Previous(); ok {
		meta[MetadataPreviousHostnames] = prev.Hostnames
	}

	e := Event{
		ID:         uuid.New(),
		TenantKey:  t.Key,
		Action:     action(ev.Kind()),
		Metadata:   meta,
		Source:     SourceSystem,
		OccurredAt: now.UTC(),
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		e.Source = SourceAPI
		e.RequestID = id
	}
	return e
}

// Hook records every lifecycle event through a Logger. Recording never fails
// the event; a full buffer drops the record with a warning.
type Hook struct {
	logger Logger
	now    func() time.Time
}

// NewHook returns the audit hook. A nil logger records nothing.
func NewHook(logger Logger) *Hook {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Hook{logger: logger, now: time.Now}
}

func (h *Hook) Name() string { return "audit" }

func (h *Hook) Fire(ctx context.Context, ev tenant.Event) error {
	h.logger.Log(ctx, FromLifecycle(ctx, ev, h.now()))
	return nil
}
