// Package lifecycle delivers tenant lifecycle events to registered hooks.
//
// Delivery is synchronous and ordered: Emit runs every hook interested in
// the event's kind, in registration order, and returns only when they have
// all finished. The first failing hook aborts delivery of that event.
//
// Dispatch is non-reentrant by default. A hook that emits another event, or
// that mutates a tenant through the registry with the context it was handed,
// gets ErrReentrant unless the dispatcher was built with AllowReentrant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

var (
	ErrHookFailed = errors.New("lifecycle hook failed")
	ErrReentrant  = errors.New("lifecycle event emitted from inside a hook")
)

// Hook reacts to lifecycle events.
type Hook interface {
	Name() string
	Fire(ctx context.Context, ev tenant.Event) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, ev tenant.Event) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Fire(ctx context.Context, ev tenant.Event) error {
	return h.Fn(ctx, ev)
}

// HookError reports a hook failure. Hooks listed in Completed ran
// successfully before Hook failed; hooks after it were not run.
type HookError struct {
	Hook      string
	Kind      tenant.EventKind
	TenantKey string
	Completed []string
	Err       error
}

func (e *HookError) Error() string {
	msg := fmt.Sprintf("hook %q failed on %s event for tenant %s: %v", e.Hook, e.Kind, e.TenantKey, e.Err)
	if len(e.Completed) > 0 {
		msg += fmt.Sprintf(" (completed: %s)", strings.Join(e.Completed, ", "))
	}
	return msg
}

func (e *HookError) Unwrap() []error {
	return []error{ErrHookFailed, e.Err}
}

type dispatchKey struct{}

// dispatchDepth returns how many deliveries are in progress on ctx's call
// chain.
func dispatchDepth(ctx context.Context) int {
	if d, ok := ctx.Value(dispatchKey{}).(int); ok {
		return d
	}
	return 0
}

// Dispatching reports whether ctx was handed to a hook by a dispatcher.
func Dispatching(ctx context.Context) bool {
	return dispatchDepth(ctx) > 0
}
