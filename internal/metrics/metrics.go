package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run without it.
type Metrics struct {
	registry *prometheus.Registry

	binds          *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec
	submits        *prometheus.CounterVec
	submitDuration *prometheus.HistogramVec
	receipts       *prometheus.CounterVec
	queueOutcomes  *prometheus.CounterVec
	boundSessions  *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.binds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_bind_total",
			Help: "Bind attempts by configuration and result",
		},
		[]string{"config", "result"},
	)
	m.sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_session_closed_total",
			Help: "Sessions that ended, by configuration and reason",
		},
		[]string{"config", "reason"},
	)
	m.submits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_submit_total",
			Help: "submit_sm requests by configuration and outcome code",
		},
		[]string{"config", "code"},
	)
	m.submitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smpp_submit_duration_seconds",
			Help:    "Time from submit_sm write to response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"config"},
	)
	m.receipts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_delivery_receipts_total",
			Help: "Delivery receipts by resulting message status",
		},
		[]string{"status"},
	)
	m.queueOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_queue_outcomes_total",
			Help: "Queue entry attempt outcomes",
		},
		[]string{"outcome"},
	)
	m.boundSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smpp_session_bound",
			Help: "1 while the configuration has a bound session",
		},
		[]string{"config"},
	)
	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sms_queue_entries",
			Help: "Queue entries by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		m.binds,
		m.sessionsClosed,
		m.submits,
		m.submitDuration,
		m.receipts,
		m.queueOutcomes,
		m.boundSessions,
		m.queueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BindResult(config string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.binds.WithLabelValues(config, result).Inc()
}

func (m *Metrics) SessionBound(config string, bound bool) {
	if m == nil {
		return
	}
	v := 0.0
	if bound {
		v = 1
	}
	m.boundSessions.WithLabelValues(config).Set(v)
}

func (m *Metrics) SessionClosed(config, reason string) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(config, reason).Inc()
}

// SubmitResult records one submit_sm. code is empty on success.
func (m *Metrics) SubmitResult(config, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.submits.WithLabelValues(config, code).Inc()
	m.submitDuration.WithLabelValues(config).Observe(elapsed.Seconds())
}

func (m *Metrics) ReceiptApplied(status string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(status).Inc()
}

func (m *Metrics) QueueOutcome(outcome string) {
	if m == nil {
		return
	}
	m.queueOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(status string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(status).Set(float64(n))
}
