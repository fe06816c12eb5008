package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa as métricas Prometheus do monitor
type Metrics struct {
	checks        *prometheus.CounterVec
	checkDuration prometheus.Histogram
	activeTimers  prometheus.Gauge
	changes       *prometheus.CounterVec
	autoPauses    prometheus.Counter
}

// NewMetrics cria as métricas e registra em reg (nil = não registra)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_monitor_checks_total",
				Help: "Total number of availability checks by result",
			},
			[]string{"result"},
		),
		checkDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stock_monitor_check_duration_seconds",
				Help:    "Duration of page fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		activeTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stock_monitor_active_timers",
				Help: "Number of variants with an armed polling timer",
			},
		),
		changes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_monitor_availability_changes_total",
				Help: "Availability flips by direction",
			},
			[]string{"direction"},
		),
		autoPauses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stock_monitor_auto_pauses_total",
				Help: "Variants paused after reaching the consecutive error limit",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.checks, m.checkDuration, m.activeTimers, m.changes, m.autoPauses)
	}
	return m
}

func (m *Metrics) observe(out outcome, res CheckResult) {
	result := "success"
	switch {
	case res.Err != nil:
		result = "network_error"
	case out.failed:
		result = "anti_bot"
	}
	m.checks.WithLabelValues(result).Inc()
	if res.Latency > 0 {
		m.checkDuration.Observe(res.Latency.Seconds())
	}
	if out.changed {
		direction := "unavailable"
		if out.becameAvailable {
			direction = "available"
		}
		m.changes.WithLabelValues(direction).Inc()
	}
	if out.autoPaused {
		m.autoPauses.Inc()
	}
}

func (m *Metrics) setActiveTimers(n int) {
	m.activeTimers.Set(float64(n))
}

// observeLatency é usado quando o resultado é descartado
func (m *Metrics) observeLatency(d time.Duration) {
	if d > 0 {
		m.checkDuration.Observe(d.Seconds())
	}
}
