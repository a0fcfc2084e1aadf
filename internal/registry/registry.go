// Package registry is the durable tenant registry. Every successful mutation
// emits exactly one lifecycle event, synchronously, after it is durable.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

var (
	// ErrPartiallyApplied is returned with the committed tenant when the
	// mutation is durable but one of its lifecycle hooks failed.
	ErrPartiallyApplied  = errors.New("tenant mutation applied but lifecycle hooks did not complete")
	ErrReentrantMutation = errors.New("tenant mutation started from inside a lifecycle hook")
)

const defaultKeyAttempts = 5

// Registry is the tenant registry contract.
type Registry interface {
	Find(ctx context.Context, key string) (*tenant.Tenant, error)
	FindByHostname(ctx context.Context, host string) (*tenant.Tenant, error)
	List(ctx context.Context) ([]tenant.Tenant, error)
	Create(ctx context.Context, attrs tenant.Attributes) (*tenant.Tenant, error)
	Update(ctx context.Context, key string, changes tenant.Changes) (*tenant.Tenant, error)
	Delete(ctx context.Context, key string) error
}

// Emitter delivers lifecycle events. *lifecycle.Dispatcher implements it.
type Emitter interface {
	Admit(ctx context.Context) error
	Emit(ctx context.Context, ev tenant.Event) error
}

// Config controls key generation and delete semantics.
type Config struct {
	CompactKeys bool
	HardDelete  bool
	KeyAttempts int
}

// Service implements Registry over a Backend.
type Service struct {
	backend Backend
	emitter Emitter
	cfg     Config
	locks   *keyLocks
	logger  *slog.Logger
	now     func() time.Time
	newKey  func(compact bool) string
}

// New creates a registry service. A nil logger discards output.
func New(backend Backend, emitter Emitter, cfg Config, logger *slog.Logger) *Service {
	if cfg.KeyAttempts <= 0 {
		cfg.KeyAttempts = defaultKeyAttempts
	}
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Service{
		backend: backend,
		emitter: emitter,
		cfg:     cfg,
		locks:   newKeyLocks(),
		logger:  logger,
		now:     time.Now,
		newKey:  tenant.NewKey,
	}
}

type mutatingKey struct{}

func mutating(ctx context.Context, key string) bool {
	held, _ := ctx.Value(mutatingKey{}).(map[string]bool)
	return held[key]
}

func withMutating(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(mutatingKey{}).(map[string]bool)
	held := make(map[string]bool, len(prev)+1)
	for k := range prev {
		held[k] = true
	}
	held[key] = true
	return context.WithValue(ctx, mutatingKey{}, held)
}

// begin rejects mutations the dispatcher would refuse to deliver, and
// mutations of a key whose own mutation is still delivering its event.
func (s *Service) begin(ctx context.Context, key string) error {
	if key != "" && mutating(ctx, key) {
		return fmt.Errorf("%w: tenant %s", ErrReentrantMutation, key)
	}
	if err := s.emitter.Admit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrReentrantMutation, err)
	}
	return nil
}

func (s *Service) Find(ctx context.Context, key string) (*tenant.Tenant, error) {
	return s.backend.Get(ctx, key)
}

// FindByHostname returns the active tenant answering host. Lookups use the
// normalized form of host.
func (s *Service) FindByHostname(ctx context.Context, host string) (*tenant.Tenant, error) {
	h, err := tenant.NormalizeHostname(host)
	if err != nil {
		return nil, tenant.ErrNotFound
	}
	return s.backend.GetByHostname(ctx, h)
}

func (s *Service) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.backend.List(ctx)
}

// Create assigns a fresh key and persists a new active tenant. A generated
// key that already exists is never overwritten; another one is drawn.
func (s *Service) Create(ctx context.Context, attrs tenant.Attributes) (*tenant.Tenant, error) {
	if err := s.begin(ctx, ""); err != nil {
		return nil, err
	}
	hosts, err := tenant.NormalizeHostnames(attrs.Hostnames)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &tenant.Tenant{
		Name:      attrs.Name,
		Hostnames: hosts,
		State:     tenant.StateActive,
		Overrides: attrs.Overrides,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 1; ; attempt++ {
		t.Key = s.newKey(s.cfg.CompactKeys)
		unlock := s.locks.Lock(t.Key)
		err = s.backend.Insert(ctx, t)
		if err == nil {
			defer unlock()
			break
		}
		unlock()
		if !errors.Is(err, tenant.ErrKeyCollision) {
			return nil, fmt.Errorf("creating tenant: %w", err)
		}
		s.logger.Warn("tenant key collision, regenerating", "attempt", attempt)
		if attempt >= s.cfg.KeyAttempts {
			return nil, fmt.Errorf("creating tenant after %d attempts: %w", attempt, err)
		}
	}

	return s.emit(ctx, t, tenant.Created(t))
}

// Update applies changes to an active tenant.
func (s *Service) Update(ctx context.Context, key string, changes tenant.Changes) (*tenant.Tenant, error) {
	if err := s.begin(ctx, key); err != nil {
		return nil, err
	}
	if changes.Hostnames != nil {
		hosts, err := tenant.NormalizeHostnames(changes.Hostnames)
		if err != nil {
			return nil, err
		}
		changes.Hostnames = hosts
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	prev, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !prev.Active() {
		return nil, fmt.Errorf("%w: %s", tenant.ErrTenantDeleted, key)
	}

	next := changes.Apply(prev)
	next.UpdatedAt = s.now().UTC()
	if err := s.backend.Replace(ctx, next); err != nil {
		return nil, fmt.Errorf("updating tenant: %w", err)
	}

	return s.emit(ctx, next, tenant.Updated(prev, next))
}

// Delete moves the tenant to the terminal deleted state. With hard delete
// configured the record is purged instead of retained.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.begin(ctx, key); err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	t, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if !t.Active() {
		return fmt.Errorf("%w: %s", tenant.ErrTenantDeleted, key)
	}

	t.State = tenant.StateDeleted
	t.UpdatedAt = s.now().UTC()
	if s.cfg.HardDelete {
		err = s.backend.Purge(ctx, key)
	} else {
		err = s.backend.Replace(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}

	_, err = s.emit(ctx, t, tenant.Deleted(t))
	return err
}

func (s *Service) emit(ctx context.Context, t *tenant.Tenant, ev tenant.Event) (*tenant.Tenant, error) {
	if err := s.emitter.Emit(withMutating(ctx, t.Key), ev); err != nil {
		s.logger.Error("tenant mutation partially applied",
			"tenant", t.Key,
			"event", ev.Kind().String(),
			"error", err,
		)
		return t, fmt.Errorf("%w: %w", ErrPartiallyApplied, err)
	}
	return t, nil
}
