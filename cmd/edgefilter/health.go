package main

import (
	"context"
	"time"

	"github.com/c360/edgefilter/component"
	"github.com/c360/edgefilter/health"
	"github.com/c360/edgefilter/metric"
	"github.com/c360/edgefilter/natsclient"
)

const (
	natsHealthName = "nats"
	systemName     = "edgefilter"
)

// natsProbe is the part of the NATS client the reporter reads
type natsProbe interface {
	Status() natsclient.ConnectionStatus
	RTT() (time.Duration, error)
	PublishAsyncPending() int
}

// healthReporter samples component and broker health into the monitor and
// the process-level gauges
type healthReporter struct {
	monitor    *health.Monitor
	core       *metric.Metrics
	nats       natsProbe
	components map[string]component.Discoverable
}

func newHealthReporter(monitor *health.Monitor, core *metric.Metrics, nats natsProbe) *healthReporter {
	return &healthReporter{
		monitor:    monitor,
		core:       core,
		nats:       nats,
		components: make(map[string]component.Discoverable),
	}
}

// track registers a component before the reporter starts running
func (r *healthReporter) track(c component.Discoverable) {
	r.components[c.Meta().Name] = c
}

func (r *healthReporter) sample() {
	for name, c := range r.components {
		ch := c.Health()
		r.monitor.Update(name, health.FromComponentHealth(name, ch))
		if r.core != nil {
			r.core.RecordHealthStatus(name, ch.Healthy)
		}
	}

	if r.nats == nil {
		return
	}

	status := r.nats.Status()
	switch status {
	case natsclient.StatusConnected:
		r.monitor.Update(natsHealthName, health.NewHealthy(natsHealthName, "connected"))
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		r.monitor.Update(natsHealthName, health.NewDegraded(natsHealthName, status.String()))
	default:
		r.monitor.Update(natsHealthName, health.NewUnhealthy(natsHealthName, status.String()))
	}

	if r.core == nil {
		return
	}
	r.core.RecordNATSStatus(status == natsclient.StatusConnected)
	r.core.RecordCircuitBreakerState(status == natsclient.StatusCircuitOpen)
	r.core.RecordNATSPublishPending(r.nats.PublishAsyncPending())
	if rtt, err := r.nats.RTT(); err == nil {
		r.core.RecordNATSRTT(rtt)
	}
}

// run samples on every tick until ctx ends
func (r *healthReporter) run(ctx context.Context, interval time.Duration) {
	r.sample()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

// report serves the aggregate as the /health body
func (r *healthReporter) report() (any, bool) {
	status := r.monitor.AggregateHealth(systemName)
	return status, !status.IsUnhealthy()
}
