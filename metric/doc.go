// Package metric provides Prometheus-based metrics collection and the HTTP
// server that exposes them.
//
// The package has three layers:
//
//  1. Core Metrics: process-level metrics registered automatically (Metrics type)
//  2. Component Registry: component collectors keyed by service (Registrar)
//  3. HTTP Server: /metrics in Prometheus format plus a JSON /health endpoint (Server)
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, func() (any, bool) {
//	    status := monitor.AggregateHealth("edgefilter")
//	    return status, !status.IsUnhealthy()
//	})
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Shutdown(ctx)
//
// # Component Metrics
//
// Components build their own collectors under Namespace and register them as
// a set. RegisterAll is atomic: a conflict leaves nothing behind.
//
//	err := registry.RegisterAll("tempfilter", map[string]prometheus.Collector{
//	    "events_total": events,
//	    "in_flight":    inFlight,
//	})
//
// UnregisterService releases a service's collectors. Registering the same
// service and name twice returns an Invalid classified error.
package metric
