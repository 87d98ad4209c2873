package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors exported by the service.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	transitionsTotal *prometheus.CounterVec
	metricSeconds    *prometheus.HistogramVec
	rollupDuration   prometheus.Histogram
	rollupSize       prometheus.Histogram
	sweepCandidates  prometheus.Gauge
	sweepFlagged     prometheus.Counter
}

// NewMetrics registers collectors on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total HTTP requests answered with a domain error",
			},
			[]string{"method", "path", "code"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_transitions_total",
				Help: "Conversation state transitions applied",
			},
			[]string{"old_state", "new_state", "implicit"},
		),
		metricSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conversation_metric_seconds",
				Help:    "Duration observations recorded for conversations",
				Buckets: prometheus.ExponentialBuckets(60, 2, 14),
			},
			[]string{"kind"},
		),
		rollupDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insights_rollup_duration_seconds",
				Help:    "Insight rollup computation duration",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
			},
		),
		rollupSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "insights_rollup_conversations",
				Help:    "Conversations aggregated per rollup",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		sweepCandidates: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "overdue_sweep_candidates",
				Help: "Conversations considered by the last overdue sweep",
			},
		),
		sweepFlagged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "overdue_sweep_flagged_total",
				Help: "Conversations marked overdue by the sweep",
			},
		),
	}
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, label).Observe(duration.Seconds())
	m.requestsTotal.WithLabelValues(method, path, label).Inc()
}

// RecordError increments the domain-error counter.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(method, path, code).Inc()
}

// RecordTransition counts an applied state transition.
func (m *Metrics) RecordTransition(oldState, newState string, implicit bool) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(oldState, newState, strconv.FormatBool(implicit)).Inc()
}

// ObserveMetric records a duration observation export.
func (m *Metrics) ObserveMetric(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.metricSeconds.WithLabelValues(kind).Observe(seconds)
}

// ObserveRollup records one rollup computation.
func (m *Metrics) ObserveRollup(seconds float64, conversations int) {
	if m == nil {
		return
	}
	m.rollupDuration.Observe(seconds)
	m.rollupSize.Observe(float64(conversations))
}

// RecordSweep records one overdue sweep pass.
func (m *Metrics) RecordSweep(candidates, flagged int) {
	if m == nil {
		return
	}
	m.sweepCandidates.Set(float64(candidates))
	m.sweepFlagged.Add(float64(flagged))
}
