package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the review coordinator.
type Metrics struct {
	Queued    prometheus.Counter
	Decisions *prometheus.CounterVec
	Conflicts prometheus.Counter
	Pending   prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with review metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Queued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_review_queued_total",
			Help: "Total number of cases queued for manual review",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriqan_review_decisions_total",
			Help: "Total number of committed review decisions by type",
		}, []string{"type"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_review_decision_conflicts_total",
			Help: "Total number of decision submissions lost to a concurrent writer",
		}),
		Pending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veriqan_review_pending",
			Help: "Current number of undecided review cases",
		}),
	}
}

func (m *Metrics) IncQueued()              { m.Queued.Inc() }
func (m *Metrics) IncDecision(kind string) { m.Decisions.WithLabelValues(kind).Inc() }
func (m *Metrics) IncConflict()            { m.Conflicts.Inc() }
func (m *Metrics) SetPending(count int)    { m.Pending.Set(float64(count)) }
