package tenant

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("tenant not found")
	ErrDuplicateHostname = errors.New("hostname already owned by another tenant")
	ErrInvalidHostname   = errors.New("invalid hostname")
	ErrTenantDeleted     = errors.New("tenant is deleted")
	ErrKeyCollision      = errors.New("tenant key already exists")
	ErrAmbiguousHostname = errors.New("hostname matches more than one tenant")
)

// State is the lifecycle state of a tenant. Deleted is terminal.
type State string

const (
	StateActive  State = "active"
	StateDeleted State = "deleted"
)

// Overrides holds tenant-specific connection values. Empty fields fall back
// to the derived and process-wide defaults.
type Overrides struct {
	Driver   string `json:"driver,omitempty"`
	Host     string `json:"host,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
}

// IsZero reports whether no override is set.
func (o Overrides) IsZero() bool {
	return o == Overrides{}
}

// Tenant represents a tenant in the registry.
type Tenant struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Hostnames []string  `json:"hostnames"`
	State     State     `json:"state"`
	Overrides Overrides `json:"overrides"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the tenant can still be identified and configured.
func (t *Tenant) Active() bool {
	return t.State == StateActive
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (t *Tenant) Clone() *Tenant {
	c := *t
	c.Hostnames = slices.Clone(t.Hostnames)
	return &c
}

// Attributes are the caller-supplied fields of a new tenant.
type Attributes struct {
	Name      string    `json:"name"`
	Hostnames []string  `json:"hostnames"`
	Overrides Overrides `json:"overrides"`
}

// Changes describes an update. Nil fields are left unchanged.
type Changes struct {
	Name      *string    `json:"name,omitempty"`
	Hostnames []string   `json:"hostnames,omitempty"`
	Overrides *Overrides `json:"overrides,omitempty"`
}

// Apply returns a copy of t with the changes applied. Hostnames must already
// be normalized.
func (c Changes) Apply(t *Tenant) *Tenant {
	next := t.Clone()
	if c.Name != nil {
		next.Name = *c.Name
	}
	if c.Hostnames != nil {
		next.Hostnames = slices.Clone(c.Hostnames)
	}
	if c.Overrides != nil {
		next.Overrides = *c.Overrides
	}
	return next
}

// NewKey generates a tenant key from a random UUID. Compact keys drop the
// dashes, giving a fixed 32-character lowercase hex string.
func NewKey(compact bool) string {
	id := uuid.NewString()
	if compact {
		return strings.ReplaceAll(id, "-", "")
	}
	return id
}

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// NormalizeHostname lowercases host, strips any port and trailing dot, and
// validates the result as a DNS name.
func NormalizeHostname(host string) (string, error) {
	h := strings.TrimSpace(host)
	if hostname, _, err := net.SplitHostPort(h); err == nil {
		h = hostname
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	if h == "" || len(h) > 253 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHostname, host)
	}
	for _, label := range strings.Split(h, ".") {
		if !labelPattern.MatchString(label) {
			return "", fmt.Errorf("%w: %q", ErrInvalidHostname, host)
		}
	}
	return h, nil
}

// NormalizeHostnames normalizes every hostname and collapses duplicates,
// keeping the first occurrence.
func NormalizeHostnames(hosts []string) ([]string, error) {
	out := make([]string, 0, len(hosts))
	seen := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		n, err := NormalizeHostname(h)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
