// Package health tracks component health and aggregates it for the /health
// endpoint.
//
// Three states are supported: healthy, degraded and unhealthy. A Monitor holds
// the latest Status per component; AggregateHealth folds them into one Status
// whose state is the worst of its parts:
//
//	monitor := health.NewMonitor(30 * time.Second)
//	monitor.Update("nats", health.NewHealthy("nats", "connected"))
//	monitor.Update("tempfilter", health.FromComponentHealth("tempfilter", proc.Health()))
//	status := monitor.AggregateHealth("edgefilter")
//
// Messages built from component errors are sanitized so URLs, paths,
// addresses and credentials never reach the endpoint.
package health
