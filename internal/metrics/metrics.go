package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mirador_netops"

// Delivery outcome labels.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs, partitioned by final status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Pipeline run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Detector findings, partitioned by detector and severity.",
		},
		[]string{"detector", "severity"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerting decisions, partitioned by decision kind.",
		},
		[]string{"decision"},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts, partitioned by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	escalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Alert escalations, partitioned by policy.",
		},
		[]string{"policy"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Per-device circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"device"},
	)

	incidentsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incidents_open",
			Help:      "Incidents currently open.",
		},
	)

	windowEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_evictions_total",
			Help:      "Rolling detector windows evicted from the arena.",
		},
	)
)

// Register attaches mirador-netops collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		stageDurationSeconds,
		findingsTotal,
		alertsTotal,
		deliveriesTotal,
		escalationsTotal,
		breakerState,
		incidentsOpen,
		windowEvictionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a pipeline run duration and status label.
func ObserveRun(duration time.Duration, status string) {
	runsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records the latency of one stage.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncFinding counts a detector finding.
func IncFinding(detector, severity string) {
	findingsTotal.WithLabelValues(detector, severity).Inc()
}

// IncAlertDecision counts an alerting decision.
func IncAlertDecision(decision string) {
	alertsTotal.WithLabelValues(decision).Inc()
}

// IncDelivery counts a delivery attempt outcome on channel.
func IncDelivery(channel, outcome string) {
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// IncEscalation counts an escalation fired by policy.
func IncEscalation(policy string) {
	escalationsTotal.WithLabelValues(policy).Inc()
}

// SetBreakerState records the breaker state of device.
func SetBreakerState(device string, state float64) {
	breakerState.WithLabelValues(device).Set(state)
}

// SetIncidentsOpen records the number of open incidents.
func SetIncidentsOpen(n int) {
	incidentsOpen.Set(float64(n))
}

// AddWindowEvictions adds n evicted windows.
func AddWindowEvictions(n int64) {
	if n > 0 {
		windowEvictionsTotal.Add(float64(n))
	}
}
