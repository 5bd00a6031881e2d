package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the orchestrator.
type Metrics struct {
	StagesCompleted *prometheus.CounterVec
	StageFailures   *prometheus.CounterVec
	CasesCompleted  prometheus.Counter
	CasesSuspended  prometheus.Counter
	CasesCancelled  prometheus.Counter
	Duration        prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with pipeline metrics registered.
func NewMetrics() *Metrics {
	return &Metrics{
		StagesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriqan_pipeline_stages_completed_total",
			Help: "Total number of completed pipeline stages by stage",
		}, []string{"stage"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriqan_pipeline_stage_failures_total",
			Help: "Total number of failed pipeline stages by stage",
		}, []string{"stage"}),
		CasesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_pipeline_cases_completed_total",
			Help: "Total number of cases that reached the completed stage",
		}),
		CasesSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_pipeline_cases_suspended_total",
			Help: "Total number of cases suspended for manual review",
		}),
		CasesCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriqan_pipeline_cases_cancelled_total",
			Help: "Total number of cases stopped by cancellation",
		}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriqan_pipeline_processing_duration_seconds",
			Help:    "End-to-end processing duration for completed cases",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
