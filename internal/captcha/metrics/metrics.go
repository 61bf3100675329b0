package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for admission verification.
type Metrics struct {
	SessionsAdmitted  prometheus.Counter
	AdmitFailures     *prometheus.CounterVec
	Answers           *prometheus.CounterVec
	Evictions         *prometheus.CounterVec
	EvictionFailures  *prometheus.CounterVec
	MessageDeletes    *prometheus.CounterVec
	OrphansSwept      prometheus.Counter
	SweepDuration     prometheus.Histogram
	VerificationTimes prometheus.Histogram
}

// New registers the metrics with reg. Passing nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		SessionsAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_sessions_admitted_total",
			Help: "Total number of verification sessions created",
		}),
		AdmitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_admit_failures_total",
			Help: "Total number of admissions that failed, by reason",
		}, []string{"reason"}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_answers_total",
			Help: "Total number of evaluated answers, by outcome",
		}, []string{"outcome"}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_evictions_total",
			Help: "Total number of executed evictions, by action and reason",
		}, []string{"action", "reason"}),
		EvictionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_eviction_failures_total",
			Help: "Total number of failed ban/kick actions, by cause",
		}, []string{"cause"}),
		MessageDeletes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_message_deletes_total",
			Help: "Total number of attempted message deletions, by result",
		}, []string{"result"}),
		OrphansSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_orphan_sessions_swept_total",
			Help: "Total number of orphaned sessions deleted by the reconciliation sweep",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		VerificationTimes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gatekeeper_verification_seconds",
			Help:    "Time from challenge to correct answer",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
	}
}

// Helpers are nil-safe so callers can run without a registry.
func (m *Metrics) IncAdmitted() {
	if m == nil {
		return
	}
	m.SessionsAdmitted.Inc()
}

func (m *Metrics) IncAdmitFailure(reason string) {
	if m == nil {
		return
	}
	m.AdmitFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncAnswer(outcome string) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEviction(action, reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(action, reason).Inc()
}

func (m *Metrics) IncEvictionFailure(cause string) {
	if m == nil {
		return
	}
	m.EvictionFailures.WithLabelValues(cause).Inc()
}

func (m *Metrics) IncMessageDelete(result string) {
	if m == nil {
		return
	}
	m.MessageDeletes.WithLabelValues(result).Inc()
}

func (m *Metrics) AddOrphansSwept(n int) {
	if m == nil {
		return
	}
	m.OrphansSwept.Add(float64(n))
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveVerification(d time.Duration) {
	if m == nil {
		return
	}
	m.VerificationTimes.Observe(d.Seconds())
}
