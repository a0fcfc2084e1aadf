// Package notify publishes tenant lifecycle events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/valinor-ai/tenantry/internal/tenant"
)

const subjectPrefix = "tenants."

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Message is the JSON body published for each event.
type Message struct {
	Kind       string    `json:"kind"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Hostnames  []string  `json:"hostnames"`
	State      string    `json:"state"`
	Previous   []string  `json:"previous_hostnames,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher is a lifecycle hook that publishes every event on
// tenants.<kind>. Publishing is synchronous: Fire returns after the server
// acknowledged the flush.
type Publisher struct {
	nc    conn
	close func()
	now   func() time.Time
}

// Connect dials the NATS server at url.
func Connect(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("tenantry"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("nats connected", "url", url)
	return &Publisher{nc: nc, close: nc.Close, now: time.Now}, nil
}

func (p *Publisher) Name() string { return "nats-publisher" }

func (p *Publisher) Fire(ctx context.Context, ev tenant.Event) error {
	t := ev.Tenant()
	msg := Message{
		Kind:       ev.Kind().String(),
		Key:        t.Key,
		Name:       t.Name,
		Hostnames:  t.Hostnames,
		State:      string(t.State),
		OccurredAt: p.now().UTC(),
	}
	if prev, ok := ev.Previous(); ok {
		msg.Previous = prev.Hostnames
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding tenant event: %w", err)
	}

	subject := subjectPrefix + msg.Kind
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}
