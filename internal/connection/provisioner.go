package connection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Provisioner is the lifecycle hook that keeps tenant databases in step
// with the registry. Created and Updated ensure the database and its login
// exist and evict the tenant's pooled connections; Deleted retires the
// tenant's pools and drops its database when teardown is enabled.
type Provisioner struct {
	configurator *Configurator
	manager      *Manager
	admins       map[string]Admin
	teardown     bool
	logger       *slog.Logger
}

func NewProvisioner(configurator *Configurator, manager *Manager, teardown bool, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Provisioner{
		configurator: configurator,
		manager:      manager,
		admins:       make(map[string]Admin),
		teardown:     teardown,
		logger:       logger,
	}
}

// Handle registers the admin used for tenants on driver.
func (p *Provisioner) Handle(driver string, a Admin) {
	p.admins[driver] = a
}

func (p *Provisioner) Name() string { return "provisioner" }

func (p *Provisioner) Fire(ctx context.Context, ev tenant.Event) error {
	t := ev.Tenant()
	if ev.Kind() == tenant.KindDeleted {
		// a deleted tenant never gets a pool again, even from requests
		// that resolved it before the delete
		p.manager.Retire(t.Key)
	} else {
		defer p.manager.Evict(t.Key)
	}

	cfg, err := p.configurator.configure(ctx, t)
	if err != nil {
		return err
	}
	admin, ok := p.admins[cfg.Driver]
	if !ok {
		p.logger.Debug("no provisioning admin for driver", "tenant", t.Key, "driver", cfg.Driver)
		return nil
	}

	switch ev.Kind() {
	case tenant.KindCreated, tenant.KindUpdated:
		if err := admin.Ensure(ctx, cfg); err != nil {
			return fmt.Errorf("provisioning tenant %s: %w", t.Key, err)
		}
		p.logger.Info("tenant database provisioned", "tenant", t.Key, "connection", cfg)
	case tenant.KindDeleted:
		if !p.teardown {
			return nil
		}
		if err := admin.Drop(ctx, cfg); err != nil {
			return fmt.Errorf("tearing down tenant %s: %w", t.Key, err)
		}
		p.logger.Info("tenant database dropped", "tenant", t.Key)
	}
	return nil
}
