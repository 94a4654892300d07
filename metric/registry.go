package metric

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/edgefilter/errors"
)

// Namespace prefixes every metric exported by edgefilter
const Namespace = "edgefilter"

// Registrar is implemented by registries that track collectors per service
type Registrar interface {
	Register(service, name string, c prometheus.Collector) error
	RegisterAll(service string, set map[string]prometheus.Collector) error
	UnregisterService(service string) int
}

// MetricsRegistry wraps a Prometheus registry. Collectors are keyed by
// service and name so a service can release its metrics as a group.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu         sync.Mutex
	collectors map[string]prometheus.Collector
}

var _ Registrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a registry holding the core process metrics
// and the Go runtime collectors
func NewMetricsRegistry() *MetricsRegistry {
	registry := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		collectors:         make(map[string]prometheus.Collector),
		Metrics:            NewMetrics(),
	}

	registry.Metrics.register(registry.prometheusRegistry)
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core process metrics
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register adds one collector under service/name
func (r *MetricsRegistry) Register(service, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(service, name, c)
}

// RegisterAll adds every collector in set under service. Either all of
// them are registered or, on the first failure, none are.
func (r *MetricsRegistry) RegisterAll(service string, set map[string]prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	done := make([]string, 0, len(set))
	for _, name := range slices.Sorted(maps.Keys(set)) {
		if err := r.registerLocked(service, name, set[name]); err != nil {
			for _, registered := range done {
				r.unregisterLocked(metricKey(service, registered))
			}
			return err
		}
		done = append(done, name)
	}
	return nil
}

func (r *MetricsRegistry) registerLocked(service, name string, c prometheus.Collector) error {
	key := metricKey(service, name)
	if _, exists := r.collectors[key]; exists {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register", "prometheus conflict for "+key)
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register", "register "+key)
	}

	r.collectors[key] = c
	return nil
}

func (r *MetricsRegistry) unregisterLocked(key string) bool {
	c, ok := r.collectors[key]
	if !ok || !r.prometheusRegistry.Unregister(c) {
		return false
	}
	delete(r.collectors, key)
	return true
}

// UnregisterService removes every collector registered under service and
// returns how many were removed
func (r *MetricsRegistry) UnregisterService(service string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := service + "."
	removed := 0
	for key := range r.collectors {
		if strings.HasPrefix(key, prefix) && r.unregisterLocked(key) {
			removed++
		}
	}
	return removed
}

func metricKey(service, name string) string {
	return service + "." + name
}
