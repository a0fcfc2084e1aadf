package connection

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

const passwordInfo = "tenantry tenant database password"

// Defaults are the process-wide connection settings every tenant starts
// from. With Secret set, tenant passwords are derived from it instead of
// using Password.
type Defaults struct {
	Driver         string
	Host           string
	DatabasePrefix string
	UsernamePrefix string
	Password       string
	Secret         string
}

// Override adjusts a draft configuration before it is validated. Overrides
// run in registration order.
type Override interface {
	Name() string
	Override(ctx context.Context, t *tenant.Tenant, draft *Configuration) error
}

// OverrideFunc adapts a function to Override.
type OverrideFunc struct {
	OverrideName string
	Fn           func(ctx context.Context, t *tenant.Tenant, draft *Configuration) error
}

func (f OverrideFunc) Name() string { return f.OverrideName }

func (f OverrideFunc) Override(ctx context.Context, t *tenant.Tenant, draft *Configuration) error {
	return f.Fn(ctx, t, draft)
}

// Configurator computes tenant connection configurations. Configure is a
// pure function of the tenant, the defaults and the override chain; it
// never touches shared connection state.
type Configurator struct {
	defaults  Defaults
	metrics   *telemetry.Metrics
	mu        sync.RWMutex
	overrides []Override
}

func NewConfigurator(defaults Defaults, metrics *telemetry.Metrics) *Configurator {
	return &Configurator{defaults: defaults, metrics: metrics}
}

// Use appends o to the override chain.
func (c *Configurator) Use(o Override) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = append(c.overrides, o)
}

// Configure returns the connection configuration for an active tenant.
func (c *Configurator) Configure(ctx context.Context, t *tenant.Tenant) (Configuration, error) {
	if t == nil || !t.Active() {
		c.metrics.ConfigureFailed()
		return Configuration{}, tenant.ErrTenantDeleted
	}
	cfg, err := c.configure(ctx, t)
	if err != nil {
		c.metrics.ConfigureFailed()
		return Configuration{}, err
	}
	return cfg, nil
}

// configure merges tenant overrides over tenant-derived values over the
// process defaults, then runs the override chain. It ignores tenant state
// so deleted tenants can still be torn down.
func (c *Configurator) configure(ctx context.Context, t *tenant.Tenant) (Configuration, error) {
	draft := Configuration{
		Driver:   c.defaults.Driver,
		Host:     c.defaults.Host,
		Database: c.defaults.DatabasePrefix + t.Key,
		Username: c.defaults.UsernamePrefix + t.Key,
		Password: c.defaults.Password,
	}
	if c.defaults.Secret != "" {
		pw, err := DerivePassword(c.defaults.Secret, t.Key)
		if err != nil {
			return Configuration{}, err
		}
		draft.Password = pw
	}

	o := t.Overrides
	setIf(&draft.Driver, o.Driver)
	setIf(&draft.Host, o.Host)
	setIf(&draft.Database, o.Database)
	setIf(&draft.Username, o.Username)
	setIf(&draft.Password, o.Password)

	c.mu.RLock()
	chain := c.overrides
	c.mu.RUnlock()

	snapshot := t.Clone()
	for _, ov := range chain {
		if err := ov.Override(ctx, snapshot, &draft); err != nil {
			return Configuration{}, fmt.Errorf("connection override %s: %w", ov.Name(), err)
		}
	}

	if err := draft.Validate(); err != nil {
		return Configuration{}, err
	}
	return draft, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// DerivePassword derives a stable tenant database password from secret.
// Distinct keys get unrelated passwords.
func DerivePassword(secret, key string) (string, error) {
	r := hkdf.New(sha256.New, []byte(secret), []byte(key), []byte(passwordInfo))
	buf := make([]byte, 24)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("deriving tenant password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
