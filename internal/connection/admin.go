package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Admin creates and drops tenant databases on one kind of server.
// Ensure is idempotent; it also resets the tenant role's password.
type Admin interface {
	Ensure(ctx context.Context, cfg Configuration) error
	Drop(ctx context.Context, cfg Configuration) error
}

// PostgresAdmin provisions tenant databases and login roles through a
// superuser pool.
type PostgresAdmin struct {
	pool *pgxpool.Pool
}

func NewPostgresAdmin(pool *pgxpool.Pool) *PostgresAdmin {
	return &PostgresAdmin{pool: pool}
}

func (a *PostgresAdmin) Ensure(ctx context.Context, cfg Configuration) error {
	role := pgx.Identifier{cfg.Username}.Sanitize()
	db := pgx.Identifier{cfg.Database}.Sanitize()
	password := quoteLiteral(cfg.Password)

	var exists bool
	if err := a.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, cfg.Username).Scan(&exists); err != nil {
		return fmt.Errorf("checking tenant role: %w", err)
	}
	stmt := `CREATE ROLE ` + role + ` LOGIN PASSWORD ` + password
	if exists {
		stmt = `ALTER ROLE ` + role + ` WITH LOGIN PASSWORD ` + password
	}
	if _, err := a.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensuring tenant role: %w", err)
	}

	if err := a.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, cfg.Database).Scan(&exists); err != nil {
		return fmt.Errorf("checking tenant database: %w", err)
	}
	if !exists {
		// CREATE DATABASE cannot run inside a transaction block.
		if _, err := a.pool.Exec(ctx, `CREATE DATABASE `+db+` OWNER `+role); err != nil {
			return fmt.Errorf("creating tenant database: %w", err)
		}
	}
	return nil
}

func (a *PostgresAdmin) Drop(ctx context.Context, cfg Configuration) error {
	if _, err := a.pool.Exec(ctx,
		`DROP DATABASE IF EXISTS `+pgx.Identifier{cfg.Database}.Sanitize()+` WITH (FORCE)`); err != nil {
		return fmt.Errorf("dropping tenant database: %w", err)
	}
	if _, err := a.pool.Exec(ctx, `DROP ROLE IF EXISTS `+pgx.Identifier{cfg.Username}.Sanitize()); err != nil {
		return fmt.Errorf("dropping tenant role: %w", err)
	}
	return nil
}

// MySQLAdmin provisions tenant schemas and users through an administrative
// connection. Tenant users may connect from any host.
type MySQLAdmin struct {
	db *sql.DB
}

func NewMySQLAdmin(db *sql.DB) *MySQLAdmin {
	return &MySQLAdmin{db: db}
}

func (a *MySQLAdmin) Ensure(ctx context.Context, cfg Configuration) error {
	db := quoteMySQLIdent(cfg.Database)
	user := quoteMySQLString(cfg.Username) + `@'%'`
	password := quoteMySQLString(cfg.Password)

	for _, stmt := range []string{
		`CREATE DATABASE IF NOT EXISTS ` + db,
		`CREATE USER IF NOT EXISTS ` + user + ` IDENTIFIED BY ` + password,
		`ALTER USER ` + user + ` IDENTIFIED BY ` + password,
		`GRANT ALL PRIVILEGES ON ` + db + `.* TO ` + user,
	} {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("provisioning tenant schema: %w", err)
		}
	}
	return nil
}

func (a *MySQLAdmin) Drop(ctx context.Context, cfg Configuration) error {
	for _, stmt := range []string{
		`DROP DATABASE IF EXISTS ` + quoteMySQLIdent(cfg.Database),
		`DROP USER IF EXISTS ` + quoteMySQLString(cfg.Username) + `@'%'`,
	} {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dropping tenant schema: %w", err)
		}
	}
	return nil
}

// SQLiteAdmin creates one database file per tenant.
type SQLiteAdmin struct{}

func (SQLiteAdmin) Ensure(ctx context.Context, cfg Configuration) error {
	path := cfg.SQLitePath()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating tenant data directory: %w", err)
		}
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("opening tenant database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("creating tenant database: %w", err)
	}
	return nil
}

func (SQLiteAdmin) Drop(_ context.Context, cfg Configuration) error {
	path := cfg.SQLitePath()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing tenant database: %w", err)
		}
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteMySQLIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteMySQLString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}
