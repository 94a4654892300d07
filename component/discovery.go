package component

import (
	"time"
)

// Discoverable is implemented by components that can describe themselves to
// the process entry point and the health endpoint.
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// InputPorts returns the ports this component accepts data on
	InputPorts() []Port

	// OutputPorts returns the ports this component produces data on
	OutputPorts() []Port

	// ConfigSchema returns the configuration schema for this component
	ConfigSchema() ConfigSchema

	// Health returns current health status
	Health() HealthStatus

	// DataFlow returns current data flow metrics
	DataFlow() FlowMetrics
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// ConfigSchema describes the configuration parameters for a component
type ConfigSchema struct {
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes a single configuration property
type PropertySchema struct {
	Type        string   `json:"type"` // "string", "int", "float", "bool", "duration"
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *int     `json:"minimum,omitempty"`
	Category    string   `json:"category,omitempty"` // "basic" or "advanced"
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy           bool          `json:"healthy"`
	LastCheck         time.Time     `json:"last_check"`
	ErrorCount        int           `json:"error_count"`
	LastError         string        `json:"last_error,omitempty"`
	Uptime            time.Duration `json:"uptime"`
	MessagesProcessed int64         `json:"messages_processed"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Description bundles everything a Discoverable reports about itself
type Description struct {
	Meta    Metadata     `json:"meta"`
	Inputs  []Port       `json:"inputs"`
	Outputs []Port       `json:"outputs"`
	Schema  ConfigSchema `json:"schema"`
}

// Describe collects a component's self-description
func Describe(d Discoverable) Description {
	return Description{
		Meta:    d.Meta(),
		Inputs:  d.InputPorts(),
		Outputs: d.OutputPorts(),
		Schema:  d.ConfigSchema(),
	}
}
