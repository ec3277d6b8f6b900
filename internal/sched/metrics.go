package sched

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments stage executions. Attach to a Scheduler to record
// per-operation counts and durations; a nil Metrics disables collection.
type Metrics struct {
	StageExecutions *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

// NewMetrics registers the scheduler metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StageExecutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "volpipe_stage_executions_total",
				Help: "Total number of stage executions",
			},
			[]string{"operation", "status"},
		),
		StageDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "volpipe_stage_duration_seconds",
				Help:    "Duration of stage executions",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) observe(opName string, err error, d time.Duration) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.StageExecutions.WithLabelValues(opName, status).Inc()
	m.StageDuration.WithLabelValues(opName).Observe(d.Seconds())
}
