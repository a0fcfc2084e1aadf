package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by the tenancy pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Identifications *prometheus.CounterVec
	LifecycleEvents *prometheus.CounterVec
	HookFailures    *prometheus.CounterVec
	ConfigureErrors prometheus.Counter
	MigrationsRun   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Identifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantry",
			Name:      "identifications_total",
			Help:      "Tenant identification attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantry",
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events emitted by kind.",
		}, []string{"kind"}),
		HookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantry",
			Name:      "hook_failures_total",
			Help:      "Lifecycle hook failures by hook and event kind.",
		}, []string{"hook", "kind"}),
		ConfigureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tenantry",
			Name:      "configure_errors_total",
			Help:      "Connection configurations that could not be completed.",
		}),
		MigrationsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tenantry",
			Name:      "tenant_migrations_total",
			Help:      "Tenant migration runs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Identifications, m.LifecycleEvents, m.HookFailures, m.ConfigureErrors, m.MigrationsRun)
	return m
}

func (m *Metrics) Identified(strategy, outcome string) {
	if m == nil {
		return
	}
	m.Identifications.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.LifecycleEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) HookFailed(hook, kind string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook, kind).Inc()
}

func (m *Metrics) ConfigureFailed() {
	if m == nil {
		return
	}
	m.ConfigureErrors.Inc()
}

func (m *Metrics) Migrated(outcome string) {
	if m == nil {
		return
	}
	m.MigrationsRun.WithLabelValues(outcome).Inc()
}
