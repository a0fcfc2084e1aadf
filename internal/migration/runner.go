package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/valinor-ai/tenantry/internal/connection"
	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// Runner applies pending migrations to a tenant's database on Created and
// Updated events.
type Runner struct {
	router       *Router
	configurator *connection.Configurator
	manager      *connection.Manager
	openFS       func(path string) fs.FS
	metrics      *telemetry.Metrics
	logger       *slog.Logger
}

func NewRunner(router *Router, configurator *connection.Configurator, manager *connection.Manager, metrics *telemetry.Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Runner{
		router:       router,
		configurator: configurator,
		manager:      manager,
		openFS:       os.DirFS,
		metrics:      metrics,
		logger:       logger,
	}
}

func (r *Runner) Name() string { return "migration-runner" }

func (r *Runner) Fire(ctx context.Context, ev tenant.Event) error {
	t := ev.Tenant()
	plan := r.router.Resolve(t, ev.Kind())
	if !plan.Enabled || plan.Path == "" {
		r.logger.Debug("tenant migrations skipped", "tenant", t.Key, "event", ev.Kind().String())
		return nil
	}

	n, err := r.Run(ctx, t, plan)
	if err != nil {
		r.metrics.Migrated("failed")
		return err
	}
	r.metrics.Migrated("ok")
	r.logger.Info("tenant migrations applied", "tenant", t.Key, "applied", n, "path", plan.Path)
	return nil
}

// Run applies the pending migrations in plan to t and returns how many ran.
func (r *Runner) Run(ctx context.Context, t *tenant.Tenant, plan Plan) (int, error) {
	cfg, err := r.configurator.Configure(ctx, t)
	if err != nil {
		return 0, err
	}
	dialect, err := dialectFor(cfg.Driver)
	if err != nil {
		return 0, err
	}
	db, err := r.manager.DB(t.Key, cfg)
	if err != nil {
		return 0, err
	}

	// Close is never called: it would close the tenant pool the manager owns.
	provider, err := goose.NewProvider(dialect, db, r.openFS(plan.Path))
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return 0, nil
		}
		return 0, fmt.Errorf("creating migration provider for tenant %s: %w", t.Key, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("migrating tenant %s: %w", t.Key, err)
	}
	return len(results), nil
}

func dialectFor(driver string) (goose.Dialect, error) {
	switch driver {
	case connection.DriverPostgres:
		return goose.DialectPostgres, nil
	case connection.DriverMySQL:
		return goose.DialectMySQL, nil
	case connection.DriverSQLite:
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("%w: %q", connection.ErrUnsupportedDriver, driver)
	}
}
