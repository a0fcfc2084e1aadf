package connection_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valinor-ai/tenantry/internal/connection"
)

func TestConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     connection.Configuration
		missing string
	}{
		{"complete postgres", connection.Configuration{Driver: "postgres", Host: "db:5432", Database: "t_a", Username: "u", Password: "p"}, ""},
		{"sqlite needs no credentials", connection.Configuration{Driver: "sqlite3", Database: "t_a"}, ""},
		{"missing password", connection.Configuration{Driver: "mysql", Host: "db", Database: "t_a", Username: "u"}, "password"},
		{"missing several", connection.Configuration{Driver: "postgres", Database: "t_a"}, "host, username, password"},
		{"missing driver", connection.Configuration{Database: "t_a"}, "driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.missing == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, connection.ErrConfigurationIncomplete)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestConfiguration_ValidateUnknownDriver(t *testing.T) {
	err := connection.Configuration{Driver: "oracle", Database: "x"}.Validate()
	assert.ErrorIs(t, err, connection.ErrUnsupportedDriver)
}

func TestConfiguration_IncompleteErrorNeverCarriesValues(t *testing.T) {
	cfg := connection.Configuration{Driver: "postgres", Host: "secret-host", Database: "t_a", Password: "hunter2"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), "secret-host")
}

func TestConfiguration_DSN(t *testing.T) {
	pg := connection.Configuration{Driver: "postgres", Host: "db:5432", Database: "t_a", Username: "u", Password: "p@ss"}
	dsn, err := pg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p%40ss@db:5432/t_a", dsn)

	my := connection.Configuration{Driver: "mysql", Host: "db:3306", Database: "t_a", Username: "u", Password: "p"}
	dsn, err = my.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "u:p@tcp(db:3306)/t_a"), dsn)

	lite := connection.Configuration{Driver: "sqlite3", Host: "/var/lib/tenants", Database: "t_a"}
	dsn, err = lite.DSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "/var/lib/tenants/t_a.db?"), dsn)

	_, err = connection.Configuration{Driver: "oracle"}.DSN()
	assert.ErrorIs(t, err, connection.ErrUnsupportedDriver)
}

func TestConfiguration_Fingerprint(t *testing.T) {
	a := connection.Configuration{Driver: "postgres", Host: "h", Database: "d", Username: "u", Password: "p"}
	b := a
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Password = "rotated"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	// field boundaries are part of the identity
	c := connection.Configuration{Driver: "postgres", Host: "hd", Database: "", Username: "u", Password: "p"}
	d := connection.Configuration{Driver: "postgres", Host: "h", Database: "d", Username: "u", Password: "p"}
	assert.NotEqual(t, c.Fingerprint(), d.Fingerprint())
}

func TestConfiguration_RedactsPassword(t *testing.T) {
	cfg := connection.Configuration{Driver: "postgres", Host: "h", Database: "d", Username: "u", Password: "hunter2"}

	assert.NotContains(t, cfg.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", cfg), "hunter2")

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("configured", "connection", cfg)
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "[REDACTED]")
}
