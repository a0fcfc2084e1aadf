package lifecycle

import (
	"context"
	"log/slog"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

// LogHook records every event it receives.
type LogHook struct {
	logger *slog.Logger
}

func NewLogHook(logger *slog.Logger) *LogHook {
	return &LogHook{logger: logger}
}

func (h *LogHook) Name() string { return "log" }

func (h *LogHook) Fire(ctx context.Context, ev tenant.Event) error {
	t := ev.Tenant()
	h.logger.InfoContext(ctx, "tenant "+ev.Kind().String(),
		"tenant", t.Key,
		"hostnames", t.Hostnames,
		"state", string(t.State),
	)
	return nil
}
