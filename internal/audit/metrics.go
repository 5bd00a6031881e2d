package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit trail.
type Metrics struct {
	Appended            prometheus.Counter
	PersistFailures     prometheus.Counter
	BreakerDropped      prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with audit metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Appended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_audit_appended_total",
			Help: "Total number of audit records successfully persisted",
		}),
		PersistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_audit_persist_failures_total",
			Help: "Total number of audit record persistence failures",
		}),
		BreakerDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_audit_circuit_breaker_dropped_total",
			Help: "Total number of audit records dropped while the circuit breaker was open",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veriqan_audit_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncAppended()        { m.Appended.Inc() }
func (m *Metrics) IncPersistFailures() { m.PersistFailures.Inc() }
func (m *Metrics) IncBreakerDropped()  { m.BreakerDropped.Inc() }

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
