package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-level collectors every edgefilter exports
type Metrics struct {
	BuildInfo         *prometheus.GaugeVec
	ServiceStatus     *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
	NATSPublishPending prometheus.Gauge
}

func gaugeOpts(subsystem, name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}
}

// NewMetrics creates the core collectors. They are registered by
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		BuildInfo: prometheus.NewGaugeVec(
			gaugeOpts("", "build_info", "Always 1, labelled with the running version"),
			[]string{"version", "build_time"}),
		ServiceStatus: prometheus.NewGaugeVec(
			gaugeOpts("service", "status", "Lifecycle state (0=created, 1=initialized, 2=started, 3=stopped, 4=failed)"),
			[]string{"service"}),
		HealthCheckStatus: prometheus.NewGaugeVec(
			gaugeOpts("health", "status", "Health check status (0=unhealthy, 1=healthy)"),
			[]string{"service"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Lifecycle errors by service and class",
		}, []string{"service", "class"}),

		NATSConnected: prometheus.NewGauge(
			gaugeOpts("nats", "connected", "NATS connection status (0=disconnected, 1=connected)")),
		NATSRTT: prometheus.NewGauge(
			gaugeOpts("nats", "rtt_milliseconds", "Last measured NATS round-trip time in milliseconds")),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "NATS reconnections since start",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(
			gaugeOpts("nats", "circuit_breaker", "NATS circuit breaker status (0=closed, 1=open)")),
		NATSPublishPending: prometheus.NewGauge(
			gaugeOpts("nats", "publish_async_pending", "JetStream async publishes awaiting an ack")),
	}
}

func (c *Metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.BuildInfo,
		c.ServiceStatus,
		c.HealthCheckStatus,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
		c.NATSPublishPending,
	)
}

// RecordBuildInfo publishes the running version
func (c *Metrics) RecordBuildInfo(version, buildTime string) {
	c.BuildInfo.WithLabelValues(version, buildTime).Set(1)
}

// RecordServiceStatus sets the lifecycle state gauge for service
func (c *Metrics) RecordServiceStatus(service string, state int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(state))
}

// RecordError counts an error of the given class
func (c *Metrics) RecordError(service, class string) {
	c.ErrorsTotal.WithLabelValues(service, class).Inc()
}

// RecordHealthStatus sets the health gauge for service
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(service).Set(boolToFloat(healthy))
}

// RecordNATSStatus sets the connection gauge
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSRTT sets the round-trip gauge
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt) / float64(time.Millisecond))
}

// RecordNATSReconnect counts a reconnection
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState sets the circuit breaker gauge
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	c.NATSCircuitBreaker.Set(boolToFloat(open))
}

// RecordNATSPublishPending sets the pending async publish gauge
func (c *Metrics) RecordNATSPublishPending(n int) {
	c.NATSPublishPending.Set(float64(n))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
