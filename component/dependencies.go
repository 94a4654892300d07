package component

import (
	"log/slog"

	"github.com/c360/edgefilter/metric"
	"github.com/c360/edgefilter/natsclient"
)

// PlatformMeta identifies the running instance
type PlatformMeta struct {
	Org        string `json:"org"`
	Platform   string `json:"platform"`
	InstanceID string `json:"instance_id"`
}

// Dependencies provides the external dependencies a component needs
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for messaging
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Platform        PlatformMeta            // Platform identity
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	logger := d.GetLogger().With("component", componentName)
	if d.Platform.InstanceID != "" {
		logger = logger.With("instance", d.Platform.InstanceID)
	}
	return logger
}
