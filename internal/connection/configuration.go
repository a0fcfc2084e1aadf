// Package connection computes per-tenant database connection configuration
// and owns the process-wide pools opened from it.
package connection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

var (
	// ErrConfigurationIncomplete is returned when a computed configuration
	// is missing required fields. The error names the fields, never values.
	ErrConfigurationIncomplete = errors.New("tenant connection configuration incomplete")
	ErrUnsupportedDriver       = errors.New("unsupported database driver")
)

// Configuration is everything needed to open one tenant's database. For
// sqlite3, Host is the directory holding tenant database files.
type Configuration struct {
	Driver   string
	Host     string
	Database string
	Username string
	Password string
}

// Validate reports the required fields that are empty for the driver.
func (c Configuration) Validate() error {
	var missing []string
	check := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}

	check("driver", c.Driver)
	check("database", c.Database)
	switch c.Driver {
	case DriverPostgres, DriverMySQL:
		check("host", c.Host)
		check("username", c.Username)
		check("password", c.Password)
	case DriverSQLite, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfigurationIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

// Fingerprint identifies the configuration. Two configurations with the
// same fingerprint open the same database as the same user.
func (c Configuration) Fingerprint() string {
	h := sha256.New()
	for _, f := range []string{c.Driver, c.Host, c.Database, c.Username, c.Password} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SQLDriver is the database/sql driver name for the configuration.
func (c Configuration) SQLDriver() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return "pgx", nil
	case DriverMySQL:
		return "mysql", nil
	case DriverSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}

// SQLitePath is the database file of a sqlite3 configuration.
func (c Configuration) SQLitePath() string {
	name := c.Database
	if filepath.Ext(name) == "" {
		name += ".db"
	}
	return filepath.Join(c.Host, name)
}

// DSN renders the data source name for SQLDriver.
func (c Configuration) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Username, c.Password),
			Host:   c.Host,
			Path:   "/" + c.Database,
		}
		return u.String(), nil
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = c.Host
		cfg.DBName = c.Database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	case DriverSQLite:
		return c.SQLitePath() + "?_journal_mode=WAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
}

// String never includes the password.
func (c Configuration) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", c.Driver, c.Username, c.Host, c.Database)
}

func (c Configuration) LogValue() slog.Value {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("driver", c.Driver),
		slog.String("host", c.Host),
		slog.String("database", c.Database),
		slog.String("username", c.Username),
		slog.String("password", password),
	)
}
