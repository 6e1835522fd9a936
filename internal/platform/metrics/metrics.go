package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	FlowTotal    *prometheus.CounterVec
	FlowDuration *prometheus.HistogramVec
	FlowRetries  *prometheus.CounterVec
	PollMessages prometheus.Counter
	BatchRuns    *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics
func New() *Metrics {
	return &Metrics{
		FlowTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eppd_flow_total",
			Help: "Total number of executed flows by name and result code",
		}, []string{"flow", "code"}),
		FlowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eppd_flow_duration_seconds",
			Help:    "Flow execution latency including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"flow"}),
		FlowRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eppd_flow_retries_total",
			Help: "Transaction attempts retried after write conflicts",
		}, []string{"flow"}),
		PollMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eppd_poll_messages_delivered_total",
			Help: "Poll messages delivered to registrars",
		}),
		BatchRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "eppd_batch_runs_total",
			Help: "Batch worker executions by worker and outcome",
		}, []string{"worker", "outcome"}),
	}
}

// ObserveFlow records one completed flow execution.
func (m *Metrics) ObserveFlow(flow string, code int, d time.Duration) {
	m.FlowTotal.WithLabelValues(flow, strconv.Itoa(code)).Inc()
	m.FlowDuration.WithLabelValues(flow).Observe(d.Seconds())
}

// FlowRetried counts a conflict retry of the named flow.
func (m *Metrics) FlowRetried(flow string) {
	m.FlowRetries.WithLabelValues(flow).Inc()
}

// BatchRun records one batch worker execution.
func (m *Metrics) BatchRun(worker, outcome string) {
	m.BatchRuns.WithLabelValues(worker, outcome).Inc()
}
