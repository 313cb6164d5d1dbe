// Package metrics holds the Prometheus collectors of the shell.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of the shell. A nil *Metrics is valid and
// records nothing.
//
// Metrics:
//   - recallai_backend_up - 1 while the backend passes health checks
//   - recallai_backend_restarts_total{reason} - respawns by cause
//   - recallai_backend_health_failures_total - failed health checks
//   - recallai_poll_duration_seconds - latency of /api/poll
//   - recallai_poll_errors_total - failed polls
//   - recallai_cards_shown_total - cards surfaced to the user
//   - recallai_session_running - 1 while an interview is recording
type Metrics struct {
	BackendUp      prometheus.Gauge
	Restarts       *prometheus.CounterVec
	HealthFailures prometheus.Counter
	PollDuration   prometheus.Histogram
	PollErrors     prometheus.Counter
	CardsShown     prometheus.Counter
	SessionRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BackendUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "recallai_backend_up",
			Help: "Whether the backend passes health checks",
		}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recallai_backend_restarts_total",
			Help: "Total number of backend respawns",
		}, []string{"reason"}), // "exit", "unhealthy", "manual"
		HealthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "recallai_backend_health_failures_total",
			Help: "Total number of failed backend health checks",
		}),
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recallai_poll_duration_seconds",
			Help:    "Duration of backend polls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "recallai_poll_errors_total",
			Help: "Total number of failed backend polls",
		}),
		CardsShown: f.NewCounter(prometheus.CounterOpts{
			Name: "recallai_cards_shown_total",
			Help: "Total number of cards surfaced to the user",
		}),
		SessionRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "recallai_session_running",
			Help: "Whether an interview session is recording",
		}),
	}
}

// SetBackendUp records backend health.
func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	m.BackendUp.Set(boolToFloat(up))
}

// RecordRestart records a backend respawn.
func (m *Metrics) RecordRestart(reason string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(reason).Inc()
}

// RecordHealthFailure records a failed health check.
func (m *Metrics) RecordHealthFailure() {
	if m == nil {
		return
	}
	m.HealthFailures.Inc()
}

// ObservePoll records one poll round trip.
func (m *Metrics) ObservePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PollDuration.Observe(d.Seconds())
	if err != nil {
		m.PollErrors.Inc()
	}
}

// RecordCardShown records a card surfaced to the user.
func (m *Metrics) RecordCardShown() {
	if m == nil {
		return
	}
	m.CardsShown.Inc()
}

// SetSessionRunning records whether a session is recording.
func (m *Metrics) SetSessionRunning(running bool) {
	if m == nil {
		return
	}
	m.SessionRunning.Set(boolToFloat(running))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
