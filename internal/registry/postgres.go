package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/tenantry/internal/platform/database"
	"github.com/valinor-ai/tenantry/internal/tenant"
)

const tenantColumns = `tenant_key, name, hostnames, state,
	override_driver, override_host, override_database, override_username, override_password,
	created_at, updated_at`

// PostgresBackend stores tenants in Postgres. Hostname uniqueness is
// enforced by the tenant_hostnames primary key; every write runs in one
// transaction holding the tenant's row lock.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var state string
	err := row.Scan(&t.Key, &t.Name, &t.Hostnames, &state,
		&t.Overrides.Driver, &t.Overrides.Host, &t.Overrides.Database,
		&t.Overrides.Username, &t.Overrides.Password,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.State = tenant.State(state)
	return &t, nil
}

func (b *PostgresBackend) Get(ctx context.Context, key string) (*tenant.Tenant, error) {
	t, err := scanTenant(b.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE tenant_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// GetByHostname resolves host through the tenant_hostnames primary key,
// which holds only active tenants' hostnames, so at most one row matches.
func (b *PostgresBackend) GetByHostname(ctx context.Context, host string) (*tenant.Tenant, error) {
	t, err := scanTenant(b.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants
		 WHERE state = 'active'
		   AND tenant_key = (SELECT tenant_key FROM tenant_hostnames WHERE hostname = $1)`, host))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrNotFound
		}
		return nil, fmt.Errorf("finding tenant by hostname: %w", err)
	}
	return t, nil
}

func (b *PostgresBackend) List(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := b.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func (b *PostgresBackend) Insert(ctx context.Context, t *tenant.Tenant) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO tenants (`+tenantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.Key, t.Name, hostnames(t), string(t.State),
			t.Overrides.Driver, t.Overrides.Host, t.Overrides.Database,
			t.Overrides.Username, t.Overrides.Password,
			t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return err
		}
		return indexHostnames(ctx, tx, t)
	})
	return translateWriteError(err)
}

func (b *PostgresBackend) Replace(ctx context.Context, t *tenant.Tenant) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx,
			`SELECT 1 FROM tenants WHERE tenant_key = $1 FOR UPDATE`, t.Key).Scan(&one)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenant.ErrNotFound
			}
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE tenants SET name = $2, hostnames = $3, state = $4,
			   override_driver = $5, override_host = $6, override_database = $7,
			   override_username = $8, override_password = $9, updated_at = $10
			 WHERE tenant_key = $1`,
			t.Key, t.Name, hostnames(t), string(t.State),
			t.Overrides.Driver, t.Overrides.Host, t.Overrides.Database,
			t.Overrides.Username, t.Overrides.Password, t.UpdatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM tenant_hostnames WHERE tenant_key = $1`, t.Key); err != nil {
			return err
		}
		return indexHostnames(ctx, tx, t)
	})
	return translateWriteError(err)
}

func (b *PostgresBackend) Purge(ctx context.Context, key string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM tenants WHERE tenant_key = $1`, key)
	if err != nil {
		return fmt.Errorf("purging tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func indexHostnames(ctx context.Context, q database.Querier, t *tenant.Tenant) error {
	if !t.Active() || len(t.Hostnames) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`INSERT INTO tenant_hostnames (hostname, tenant_key)
		 SELECT h, $2 FROM unnest($1::text[]) AS h`,
		t.Hostnames, t.Key)
	return err
}

// hostnames never returns nil; the column is NOT NULL.
func hostnames(t *tenant.Tenant) []string {
	if t.Hostnames == nil {
		return []string{}
	}
	return t.Hostnames
}

func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := database.UniqueViolation(err); ok {
		switch constraint {
		case "tenants_pkey":
			return tenant.ErrKeyCollision
		case "tenant_hostnames_pkey":
			return tenant.ErrDuplicateHostname
		}
	}
	if errors.Is(err, tenant.ErrNotFound) {
		return err
	}
	return fmt.Errorf("writing tenant: %w", err)
}
