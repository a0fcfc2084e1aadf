package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// DefaultMaxDepth bounds nested delivery when reentrancy is allowed.
const DefaultMaxDepth = 4

type registration struct {
	hook  Hook
	kinds []tenant.EventKind
}

func (r registration) wants(k tenant.EventKind) bool {
	return len(r.kinds) == 0 || slices.Contains(r.kinds, k)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// AllowReentrant lets hooks emit events, up to maxDepth nested deliveries.
func AllowReentrant(maxDepth int) Option {
	return func(d *Dispatcher) {
		if maxDepth <= 0 {
			maxDepth = DefaultMaxDepth
		}
		d.maxDepth = maxDepth
	}
}

// WithHookTimeout bounds each hook invocation. Zero disables the bound.
func WithHookTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher holds the ordered hook list. Hooks are registered at startup;
// Register after the first Emit is allowed but takes effect only for later
// events.
type Dispatcher struct {
	mu       sync.RWMutex
	regs     []registration
	maxDepth int
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{maxDepth: 1, logger: telemetry.Discard()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register appends h to the hook list. With no kinds the hook receives every
// event.
func (d *Dispatcher) Register(h Hook, kinds ...tenant.EventKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = append(d.regs, registration{hook: h, kinds: kinds})
}

// Hooks returns the names of the hooks interested in kind, in delivery order.
func (d *Dispatcher) Hooks(kind tenant.EventKind) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for _, r := range d.regs {
		if r.wants(kind) {
			names = append(names, r.hook.Name())
		}
	}
	return names
}

// Admit reports whether a new mutation may start on ctx. It returns
// ErrReentrant when ctx belongs to a hook and nesting is not allowed.
func (d *Dispatcher) Admit(ctx context.Context) error {
	if dispatchDepth(ctx) >= d.maxDepth {
		return fmt.Errorf("%w (depth %d)", ErrReentrant, dispatchDepth(ctx))
	}
	return nil
}

// Emit delivers ev to every interested hook in registration order. The
// first failure stops delivery and is returned as a *HookError. Hooks keep
// running when ctx is cancelled; ctx values still reach them.
func (d *Dispatcher) Emit(ctx context.Context, ev tenant.Event) error {
	if err := d.Admit(ctx); err != nil {
		return err
	}

	d.mu.RLock()
	regs := slices.Clone(d.regs)
	d.mu.RUnlock()

	d.metrics.Event(ev.Kind().String())
	// The mutation is already durable, so cancelling the caller must not
	// stop delivery part way. Only the per-hook timeout bounds a hook.
	hookCtx := context.WithValue(context.WithoutCancel(ctx), dispatchKey{}, dispatchDepth(ctx)+1)

	var completed []string
	for _, r := range regs {
		if !r.wants(ev.Kind()) {
			continue
		}
		name := r.hook.Name()
		if err := d.fire(hookCtx, r.hook, ev); err != nil {
			d.metrics.HookFailed(name, ev.Kind().String())
			d.logger.Error("lifecycle hook failed",
				"hook", name,
				"event", ev.Kind().String(),
				"tenant", ev.Key(),
				"error", err,
			)
			return &HookError{
				Hook:      name,
				Kind:      ev.Kind(),
				TenantKey: ev.Key(),
				Completed: completed,
				Err:       err,
			}
		}
		completed = append(completed, name)
	}

	d.logger.Debug("lifecycle event delivered",
		"event", ev.Kind().String(),
		"tenant", ev.Key(),
		"hooks", len(completed),
	)
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, h Hook, ev tenant.Event) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panicked: %v", p)
		}
	}()

	err = h.Fire(ctx, ev)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("hook exceeded deadline: %w", ctx.Err())
	}
	return err
}
