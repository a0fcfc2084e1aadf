package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TENANTRY_"

type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Log            LogConfig            `koanf:"log"`
	Registry       RegistryConfig       `koanf:"registry"`
	Identification IdentificationConfig `koanf:"identification"`
	Connection     ConnectionConfig     `koanf:"connection"`
	Migrations     MigrationsConfig     `koanf:"migrations"`
	Lifecycle      LifecycleConfig      `koanf:"lifecycle"`
	Cache          CacheConfig          `koanf:"cache"`
	NATS           NATSConfig           `koanf:"nats"`
	Audit          AuditConfig          `koanf:"audit"`
	Metrics        MetricsConfig        `koanf:"metrics"`
	CORS           CORSConfig           `koanf:"cors"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig is the registry database.
type DatabaseConfig struct {
	URL           string `koanf:"url"`
	MaxConns      int    `koanf:"max_conns"`
	RunMigrations bool   `koanf:"run_migrations"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RegistryConfig struct {
	Backend      string `koanf:"backend"`
	CompactKeys  bool   `koanf:"compact_keys"`
	HardDelete   bool   `koanf:"hard_delete"`
	KeyAttempts  int    `koanf:"key_attempts"`
	RootName     string `koanf:"root_name"`
	RootHostname string `koanf:"root_hostname"`
}

type IdentificationConfig struct {
	Strategy           string `koanf:"strategy"`
	Header             string `koanf:"header"`
	PathPrefix         string `koanf:"path_prefix"`
	TrustForwardedHost bool   `koanf:"trust_forwarded_host"`
}

// ConnectionConfig holds the defaults every tenant connection starts from
// and the admin connections used to provision tenant databases.
type ConnectionConfig struct {
	Driver          string        `koanf:"driver"`
	Host            string        `koanf:"host"`
	DatabasePrefix  string        `koanf:"database_prefix"`
	UsernamePrefix  string        `koanf:"username_prefix"`
	Password        string        `koanf:"password"`
	Secret          string        `koanf:"secret"`
	Teardown        bool          `koanf:"teardown"`
	AdminURL        string        `koanf:"admin_url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type MigrationsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type LifecycleConfig struct {
	HookTimeout    time.Duration `koanf:"hook_timeout"`
	AllowReentrant bool          `koanf:"allow_reentrant"`
	MaxDepth       int           `koanf:"max_depth"`
}

type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	MaxEntries int64         `koanf:"max_entries"`
	TTL        time.Duration `koanf:"ttl"`
}

type NATSConfig struct {
	URL string `koanf:"url"`
}

// AuditConfig controls the lifecycle audit trail. It is only recorded when
// the registry lives in Postgres.
type AuditConfig struct {
	Enabled       bool          `koanf:"enabled"`
	BufferSize    int           `koanf:"buffer_size"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                  8080,
		"server.host":                  "0.0.0.0",
		"server.shutdown_timeout":      "10s",
		"database.max_conns":           25,
		"database.run_migrations":      true,
		"log.level":                    "info",
		"log.format":                   "json",
		"registry.backend":             "postgres",
		"registry.compact_keys":        true,
		"registry.hard_delete":         false,
		"registry.key_attempts":        5,
		"registry.root_name":           "root",
		"registry.root_hostname":       "localhost",
		"identification.strategy":      "hostname",
		"identification.header":        "X-Tenant-Key",
		"identification.path_prefix":   "/t/",
		"connection.driver":            "postgres",
		"connection.database_prefix":   "tenant_",
		"connection.username_prefix":   "tenant_",
		"connection.max_open_conns":    10,
		"connection.max_idle_conns":    2,
		"connection.conn_max_lifetime": "30m",
		"migrations.enabled":           true,
		"migrations.path":              "migrations/tenant",
		"lifecycle.hook_timeout":       "30s",
		"lifecycle.max_depth":          4,
		"cache.enabled":                true,
		"cache.max_entries":            10000,
		"cache.ttl":                    "5m",
		"audit.enabled":                true,
		"audit.buffer_size":            4096,
		"audit.batch_size":             100,
		"audit.flush_interval":         "500ms",
		"metrics.enabled":              true,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything. The first underscore
	// separates the section: TENANTRY_REGISTRY_HARD_DELETE -> registry.hard_delete
	_ = k.Load(env.Provider(envPrefix, ".", envKey), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
}
