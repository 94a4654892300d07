package tempfilter

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/edgefilter/metric"
)

const metricsService = "tempfilter"

// Forward results recorded in forwards_total
const (
	resultConfirmed   = "confirmed"
	resultFailed      = "failed"
	resultExpired     = "expired"
	resultSubmitError = "submit_error"
)

// stageMetrics holds Prometheus metrics for the filter stage. A nil
// *stageMetrics records nothing.
type stageMetrics struct {
	events         *prometheus.CounterVec // By outcome
	forwards       *prometheus.CounterVec // By result
	inFlight       prometheus.Gauge
	threshold      prometheus.Gauge
	configUpdates  *prometheus.CounterVec // By source and applied
	parseErrors    *prometheus.CounterVec // By reason
	confirmLatency prometheus.Histogram
	budgetInUse    prometheus.Gauge
}

// newStageMetrics creates and registers stage metrics with the provided registry
func newStageMetrics(registry *metric.MetricsRegistry) (*stageMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &stageMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "events_total",
			Help:      "Ingress events by outcome",
		}, []string{"outcome"}),

		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "forwards_total",
			Help:      "Forwarded copies by terminal result",
		}, []string{"result"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "in_flight",
			Help:      "Forwarded copies awaiting delivery confirmation",
		}),

		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "threshold",
			Help:      "Current temperature threshold",
		}),

		configUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "config_updates_total",
			Help:      "Configuration documents received by source and whether the threshold changed",
		}, []string{"source", "applied"}),

		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "parse_errors_total",
			Help:      "Payloads without a usable value by reason",
		}, []string{"reason"}),

		confirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "confirm_latency_seconds",
			Help:      "Time from submission to delivery confirmation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		budgetInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: metricsService,
			Name:      "clone_budget_bytes_in_use",
			Help:      "Bytes held by forwarded copies",
		}),
	}

	err := registry.RegisterAll(metricsService, map[string]prometheus.Collector{
		"events_total":              m.events,
		"forwards_total":            m.forwards,
		"in_flight":                 m.inFlight,
		"threshold":                 m.threshold,
		"config_updates_total":      m.configUpdates,
		"parse_errors_total":        m.parseErrors,
		"confirm_latency_seconds":   m.confirmLatency,
		"clone_budget_bytes_in_use": m.budgetInUse,
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *stageMetrics) recordOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(o.String()).Inc()
}

func (m *stageMetrics) recordForward(result string) {
	if m == nil {
		return
	}
	m.forwards.WithLabelValues(result).Inc()
}

func (m *stageMetrics) recordConfirmLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.confirmLatency.Observe(d.Seconds())
}

func (m *stageMetrics) recordParseError(reason string) {
	if m == nil {
		return
	}
	m.parseErrors.WithLabelValues(reason).Inc()
}

func (m *stageMetrics) recordConfigUpdate(source string, applied bool) {
	if m == nil {
		return
	}
	m.configUpdates.WithLabelValues(source, strconv.FormatBool(applied)).Inc()
}

func (m *stageMetrics) setThreshold(v float64) {
	if m == nil {
		return
	}
	m.threshold.Set(v)
}

func (m *stageMetrics) setInFlight(n int, budgetBytes int64) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
	m.budgetInUse.Set(float64(budgetBytes))
}
