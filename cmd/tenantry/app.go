package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valinor-ai/tenantry/internal/audit"
	"github.com/valinor-ai/tenantry/internal/connection"
	"github.com/valinor-ai/tenantry/internal/identify"
	"github.com/valinor-ai/tenantry/internal/lifecycle"
	"github.com/valinor-ai/tenantry/internal/migration"
	"github.com/valinor-ai/tenantry/internal/notify"
	"github.com/valinor-ai/tenantry/internal/platform/config"
	"github.com/valinor-ai/tenantry/internal/platform/database"
	"github.com/valinor-ai/tenantry/internal/platform/server"
	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/registry"
	"github.com/valinor-ai/tenantry/internal/tenancy"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// app is the wired tenancy pipeline shared by every subcommand.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	gatherer     prometheus.Gatherer
	ready        server.Pinger
	pool         *pgxpool.Pool
	registry     *registry.Service
	dispatcher   *lifecycle.Dispatcher
	configurator *connection.Configurator
	manager      *connection.Manager
	identifier   identify.Identifier
	closers      []func()
}

type alwaysReady struct{}

func (alwaysReady) Ping(context.Context) error { return nil }

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, ready: alwaysReady{}}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = telemetry.NewMetrics(reg)
		a.gatherer = reg
	}

	backend, err := a.registryBackend(ctx)
	if err != nil {
		return nil, err
	}

	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithHookTimeout(cfg.Lifecycle.HookTimeout),
	}
	if cfg.Lifecycle.AllowReentrant {
		opts = append(opts, lifecycle.AllowReentrant(cfg.Lifecycle.MaxDepth))
	}
	a.dispatcher = lifecycle.NewDispatcher(opts...)

	a.registry = registry.New(backend, a.dispatcher, registry.Config{
		CompactKeys: cfg.Registry.CompactKeys,
		HardDelete:  cfg.Registry.HardDelete,
		KeyAttempts: cfg.Registry.KeyAttempts,
	}, logger)

	cc := cfg.Connection
	a.configurator = connection.NewConfigurator(connection.Defaults{
		Driver:         cc.Driver,
		Host:           cc.Host,
		DatabasePrefix: cc.DatabasePrefix,
		UsernamePrefix: cc.UsernamePrefix,
		Password:       cc.Password,
		Secret:         cc.Secret,
	}, a.metrics)
	a.manager = connection.NewManager(connection.PoolConfig{
		MaxOpenConns:    cc.MaxOpenConns,
		MaxIdleConns:    cc.MaxIdleConns,
		ConnMaxLifetime: cc.ConnMaxLifetime,
	}, logger)
	a.closers = append(a.closers, func() { _ = a.manager.Close() })

	var lookup identify.Lookup = a.registry
	var cache *identify.Cache
	if cfg.Cache.Enabled {
		cache, err = identify.NewCache(a.registry, cfg.Cache.MaxEntries, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("creating identification cache: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		lookup = cache
	}
	a.identifier, err = identify.New(cfg.Identification.Strategy, lookup,
		identify.TrustForwardedHost(cfg.Identification.TrustForwardedHost),
		identify.WithHeader(cfg.Identification.Header),
		identify.WithPathPrefix(cfg.Identification.PathPrefix),
		identify.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	if err := a.registerHooks(ctx, cache); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) registryBackend(ctx context.Context) (registry.Backend, error) {
	switch a.cfg.Registry.Backend {
	case "memory":
		a.logger.Warn("using in-memory tenant registry; tenants are lost on exit")
		return registry.NewMemoryBackend(), nil
	case "postgres", "":
	default:
		return nil, fmt.Errorf("unknown registry backend %q", a.cfg.Registry.Backend)
	}

	if a.cfg.Database.URL == "" {
		return nil, errors.New("database.url is required for the postgres registry")
	}
	if a.cfg.Database.RunMigrations {
		if err := database.RunMigrations(ctx, a.cfg.Database.URL); err != nil {
			return nil, err
		}
		a.logger.Info("registry migrations complete")
	}
	pool, err := database.Connect(ctx, a.cfg.Database.URL, a.cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.ready = pool
	a.pool = pool
	return registry.NewPostgresBackend(pool), nil
}

// registerHooks fixes the hook order for the life of the process. The
// migration router runs first so a deleted tenant's migrations are disabled
// before any other hook observes the event.
func (a *app) registerHooks(ctx context.Context, cache *identify.Cache) error {
	router := migration.NewRouter(a.cfg.Migrations.Path)
	a.dispatcher.Register(router, tenant.KindDeleted)

	// The cache is cleared before any hook that can fail, so an aborted
	// delivery never leaves a stale hostname mapping behind.
	if cache != nil {
		a.dispatcher.Register(cache)
	}

	provisioner := connection.NewProvisioner(a.configurator, a.manager, a.cfg.Connection.Teardown, a.logger)
	provisioner.Handle(connection.DriverSQLite, connection.SQLiteAdmin{})
	if url := a.cfg.Connection.AdminURL; url != "" {
		switch a.cfg.Connection.Driver {
		case connection.DriverPostgres:
			pool, err := database.Connect(ctx, url, 2)
			if err != nil {
				return fmt.Errorf("connecting tenant admin database: %w", err)
			}
			a.closers = append(a.closers, pool.Close)
			provisioner.Handle(connection.DriverPostgres, connection.NewPostgresAdmin(pool))
		case connection.DriverMySQL:
			db, err := sql.Open("mysql", url)
			if err != nil {
				return fmt.Errorf("opening tenant admin database: %w", err)
			}
			a.closers = append(a.closers, func() { _ = db.Close() })
			provisioner.Handle(connection.DriverMySQL, connection.NewMySQLAdmin(db))
		}
	}
	a.dispatcher.Register(provisioner)

	if a.cfg.Migrations.Enabled {
		runner := migration.NewRunner(router, a.configurator, a.manager, a.metrics, a.logger)
		a.dispatcher.Register(runner, tenant.KindCreated, tenant.KindUpdated)
	}

	if a.cfg.NATS.URL != "" {
		publisher, err := notify.Connect(a.cfg.NATS.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, publisher.Close)
		a.dispatcher.Register(publisher)
	}

	if a.pool != nil && a.cfg.Audit.Enabled {
		ac := a.cfg.Audit
		trail := audit.NewAsyncLogger(a.pool, audit.NewStore(), audit.LoggerConfig{
			BufferSize:    ac.BufferSize,
			BatchSize:     ac.BatchSize,
			FlushInterval: ac.FlushInterval,
		}, a.logger)
		a.closers = append(a.closers, func() { _ = trail.Close() })
		a.dispatcher.Register(audit.NewHook(trail))
	}

	a.dispatcher.Register(lifecycle.NewLogHook(a.logger))
	return nil
}

func (a *app) server() *server.Server {
	resolver := tenancy.NewResolver(a.identifier, a.configurator)

	deps := server.Dependencies{
		Registry:           a.ready,
		TenantHandler:      registry.NewHandler(a.registry),
		Tenancy:            tenancy.Middleware(resolver, nil, a.logger),
		Logger:             a.logger,
		CORSAllowedOrigins: a.cfg.CORS.AllowedOrigins,
		ShutdownTimeout:    a.cfg.Server.ShutdownTimeout,
	}
	if a.cfg.Identification.Strategy == identify.StrategyPath {
		deps.TenantPathPrefix = a.cfg.Identification.PathPrefix
	}
	if a.pool != nil && a.cfg.Audit.Enabled {
		deps.AuditHandler = audit.NewHandler(a.pool, audit.NewStore())
	}
	if a.gatherer != nil {
		deps.Metrics = promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	return server.New(addr, deps)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
