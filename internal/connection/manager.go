package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" driver

	"github.com/valinor-ai/tenantry/internal/platform/telemetry"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

// PoolConfig sizes each tenant pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Manager owns the *sql.DB pools of every tenant, one per configuration
// fingerprint, so a connection is never handed out under another
// configuration. A request holding a configuration computed before an
// update keeps using its own pool instead of closing the current one; every
// pool of a tenant is closed on Evict. Retired tenants never get a pool again.
type Manager struct {
	mu      sync.Mutex
	pools   map[string]map[string]*sql.DB
	retired map[string]bool
	cfg     PoolConfig
	logger  *slog.Logger
}

func NewManager(cfg PoolConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = telemetry.Discard()
	}
	return &Manager{
		pools:   make(map[string]map[string]*sql.DB),
		retired: make(map[string]bool),
		cfg:     cfg,
		logger:  logger,
	}
}

// DB returns the pool for key opened with cfg. It fails with
// tenant.ErrTenantDeleted once the tenant is retired.
func (m *Manager) DB(key string, cfg Configuration) (*sql.DB, error) {
	fp := cfg.Fingerprint()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retired[key] {
		return nil, fmt.Errorf("%w: %s", tenant.ErrTenantDeleted, key)
	}
	if db, ok := m.pools[key][fp]; ok {
		return db, nil
	}

	driver, err := cfg.SQLDriver()
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening tenant database: %w", err)
	}
	if m.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	}
	if m.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(m.cfg.MaxIdleConns)
	}
	if m.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	}

	if m.pools[key] == nil {
		m.pools[key] = make(map[string]*sql.DB)
	}
	m.pools[key][fp] = db
	m.logger.Debug("tenant pool opened", "tenant", key, "connection", cfg)
	return db, nil
}

// WithConnection runs fn with a dedicated connection from the tenant's pool.
// The connection is released when fn returns or panics.
func (m *Manager) WithConnection(ctx context.Context, key string, cfg Configuration, fn func(*sql.Conn) error) error {
	db, err := m.DB(key, cfg)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring tenant connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return fn(conn)
}

// Evict closes every pool of the tenant. The next use reopens one.
func (m *Manager) Evict(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closePools(key)
}

// Retire closes the tenant's pools and refuses to open new ones.
func (m *Manager) Retire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired[key] = true
	m.closePools(key)
}

// Open returns the number of open tenant pools.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byFP := range m.pools {
		n += len(byFP)
	}
	return n
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for key, byFP := range m.pools {
		for _, db := range byFP {
			if err := db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing pool for tenant %s: %w", key, err))
			}
		}
		delete(m.pools, key)
	}
	return errors.Join(errs...)
}

func (m *Manager) closePools(key string) {
	for _, db := range m.pools[key] {
		if err := db.Close(); err != nil {
			m.logger.Warn("closing tenant pool", "tenant", key, "error", err)
		}
	}
	delete(m.pools, key)
}
