package monitor

import "github.com/prometheus/client_golang/prometheus"

// Outcome classifies how a check ended.
type Outcome string

const (
	OutcomeNormal      Outcome = "normal"
	OutcomeAbnormal    Outcome = "abnormal"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeAlertFailed Outcome = "alert_failed"
	OutcomeError       Outcome = "error"
)

// CheckEvent is passed to Hooks.OnCheck once per check.
type CheckEvent struct {
	Vital    Vital
	Outcome  Outcome
	Duration float64 // seconds
}

// Hooks lets callers observe checks without the service depending on a
// metrics backend. Nil hooks are skipped.
type Hooks struct {
	OnCheck func(e *CheckEvent)
}

func (h Hooks) onCheck(e *CheckEvent) {
	if h.OnCheck != nil {
		h.OnCheck(e)
	}
}

// Metrics holds Prometheus metrics for the monitor.
type Metrics struct {
	ChecksTotal   *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec
	AlertsSent    *prometheus.CounterVec
}

// NewMetrics registers and returns monitor metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_checks_total",
			Help: "Total vital checks by vital and outcome.",
		}, []string{"vital", "outcome"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitalwatch_check_duration_seconds",
			Help:    "Duration of vital checks in seconds, including lookup and alert delivery.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms .. ~8s
		}, []string{"vital"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_alerts_sent_total",
			Help: "Total alerts delivered by vital.",
		}, []string{"vital"}),
	}

	reg.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.AlertsSent,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCheck: func(e *CheckEvent) {
			vital := string(e.Vital)
			m.ChecksTotal.WithLabelValues(vital, string(e.Outcome)).Inc()
			m.CheckDuration.WithLabelValues(vital).Observe(e.Duration)
			if e.Outcome == OutcomeAbnormal {
				m.AlertsSent.WithLabelValues(vital).Inc()
			}
		},
	}
}
