package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Default values for the filter stage
const (
	DefaultNATSURL            = "nats://localhost:4222"
	DefaultInputSubject       = "input1"
	DefaultOutputSubject      = "output1"
	DefaultThreshold          = 25.0
	DefaultFieldPath          = "machine.temperature"
	DefaultCloneBudgetBytes   = 64 << 20
	DefaultMaxInFlight        = 1024
	DefaultConfirmTimeout     = 30 * time.Second
	DefaultSweepInterval      = time.Second
	DefaultAsyncMaxPending    = 4000
	DefaultParseLogRatePerSec = 1.0
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// Config represents the complete application configuration
type Config struct {
	Version  string         `json:"version"`
	Platform PlatformConfig `json:"platform"`
	NATS     NATSConfig     `json:"nats"`
	Metrics  MetricsConfig  `json:"metrics"`
	Filter   FilterConfig   `json:"filter"`
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// PlatformConfig identifies this deployment
type PlatformConfig struct {
	Org         string `json:"org"                   env:"EDGEFILTER_PLATFORM_ORG"`
	ID          string `json:"id"                    env:"EDGEFILTER_PLATFORM_ID"`
	InstanceID  string `json:"instance_id,omitempty" env:"EDGEFILTER_PLATFORM_INSTANCE_ID"`
	Environment string `json:"environment,omitempty" env:"EDGEFILTER_PLATFORM_ENVIRONMENT"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"           env:"EDGEFILTER_NATS_URLS"`
	MaxReconnects int           `json:"max_reconnects,omitempty" env:"EDGEFILTER_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" env:"EDGEFILTER_NATS_RECONNECT_WAIT"`
	Username      string        `json:"username,omitempty"       env:"EDGEFILTER_NATS_USERNAME"`
	Password      string        `json:"password,omitempty"       env:"EDGEFILTER_NATS_PASSWORD"`
	Token         string        `json:"token,omitempty"          env:"EDGEFILTER_NATS_TOKEN"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"  env:"EDGEFILTER_NATS_DRAIN_TIMEOUT"`

	// CircuitThreshold is the number of failed attempts that opens the circuit
	CircuitThreshold int `json:"circuit_threshold,omitempty" env:"EDGEFILTER_NATS_CIRCUIT_THRESHOLD"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`

	// ConnectionString is an opaque credential, see ParseConnectionString
	ConnectionString string `json:"connection_string,omitempty" env:"EDGEFILTER_NATS_CONNECTION_STRING,EdgeHubConnectionString"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"             env:"EDGEFILTER_NATS_TLS_ENABLED"`
	CertFile string `json:"cert_file,omitempty" env:"EDGEFILTER_NATS_TLS_CERT_FILE"`
	KeyFile  string `json:"key_file,omitempty"  env:"EDGEFILTER_NATS_TLS_KEY_FILE"`
	CAFile   string `json:"ca_file,omitempty"   env:"EDGEFILTER_NATS_TLS_CA_FILE"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"EDGEFILTER_METRICS_ENABLED"`
	Port    int    `json:"port"    env:"EDGEFILTER_METRICS_PORT"`
	Path    string `json:"path"    env:"EDGEFILTER_METRICS_PATH"`

	// PollInterval controls how often stream and consumer gauges refresh
	PollInterval time.Duration `json:"poll_interval,omitempty" env:"EDGEFILTER_METRICS_POLL_INTERVAL"`
}

// FilterConfig configures the temperature filter stage
type FilterConfig struct {
	Input  InputConfig  `json:"input"`
	Output OutputConfig `json:"output"`

	DefaultThreshold float64 `json:"default_threshold" env:"EDGEFILTER_FILTER_DEFAULT_THRESHOLD"`
	FieldPath        string  `json:"field_path"        env:"EDGEFILTER_FILTER_FIELD_PATH"`

	Twin TwinConfig `json:"twin"`

	CloneBudgetBytes       int64         `json:"clone_budget_bytes"        env:"EDGEFILTER_FILTER_CLONE_BUDGET_BYTES"`
	MaxInFlight            int           `json:"max_in_flight"             env:"EDGEFILTER_FILTER_MAX_IN_FLIGHT"`
	ConfirmTimeout         time.Duration `json:"confirm_timeout"           env:"EDGEFILTER_FILTER_CONFIRM_TIMEOUT"`
	SweepInterval          time.Duration `json:"sweep_interval"            env:"EDGEFILTER_FILTER_SWEEP_INTERVAL"`
	PublishAsyncMaxPending int           `json:"publish_async_max_pending" env:"EDGEFILTER_FILTER_PUBLISH_ASYNC_MAX_PENDING"`
	LogRatePerSec          float64       `json:"log_rate_per_sec"          env:"EDGEFILTER_FILTER_LOG_RATE_PER_SEC"`
}

// InputConfig names the ingress channel. A non-empty Stream selects a
// durable JetStream consumer instead of a core subscription.
type InputConfig struct {
	Subject    string        `json:"subject"               env:"EDGEFILTER_FILTER_INPUT_SUBJECT"`
	Stream     string        `json:"stream,omitempty"      env:"EDGEFILTER_FILTER_INPUT_STREAM"`
	Durable    string        `json:"durable,omitempty"     env:"EDGEFILTER_FILTER_INPUT_DURABLE"`
	AckWait    time.Duration `json:"ack_wait,omitempty"    env:"EDGEFILTER_FILTER_INPUT_ACK_WAIT"`
	MaxDeliver int           `json:"max_deliver,omitempty" env:"EDGEFILTER_FILTER_INPUT_MAX_DELIVER"`
}

// OutputConfig names the egress channel and the stream that captures it
type OutputConfig struct {
	Subject string `json:"subject"          env:"EDGEFILTER_FILTER_OUTPUT_SUBJECT"`
	Stream  string `json:"stream,omitempty" env:"EDGEFILTER_FILTER_OUTPUT_STREAM"`
}

// TwinConfig locates the configuration documents. Bucket and Key name the
// KV entry holding the full desired-state document; PatchSubject carries
// partial updates. Either source may be left empty.
type TwinConfig struct {
	Bucket       string `json:"bucket,omitempty"        env:"EDGEFILTER_FILTER_TWIN_BUCKET"`
	Key          string `json:"key,omitempty"           env:"EDGEFILTER_FILTER_TWIN_KEY"`
	PatchSubject string `json:"patch_subject,omitempty" env:"EDGEFILTER_FILTER_TWIN_PATCH_SUBJECT"`
}

// DefaultFilterConfig returns the filter defaults
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Input:                  InputConfig{Subject: DefaultInputSubject},
		Output:                 OutputConfig{Subject: DefaultOutputSubject},
		DefaultThreshold:       DefaultThreshold,
		FieldPath:              DefaultFieldPath,
		CloneBudgetBytes:       DefaultCloneBudgetBytes,
		MaxInFlight:            DefaultMaxInFlight,
		ConfirmTimeout:         DefaultConfirmTimeout,
		SweepInterval:          DefaultSweepInterval,
		PublishAsyncMaxPending: DefaultAsyncMaxPending,
		LogRatePerSec:          DefaultParseLogRatePerSec,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.Org != "" {
		c.Platform.Org = strings.ToLower(c.Platform.Org)
		if !isValidNATSSubjectPart(c.Platform.Org) {
			return fmt.Errorf(
				"platform.org '%s' is not valid for NATS subjects (must be alphanumeric with dots, dashes, underscores)",
				c.Platform.Org,
			)
		}
	}

	if len(c.NATS.URLs) == 0 && c.NATS.ConnectionString == "" {
		return errors.New("nats.urls or nats.connection_string is required")
	}
	if c.NATS.ConnectionString != "" {
		if _, err := ParseConnectionString(c.NATS.ConnectionString); err != nil {
			return fmt.Errorf("nats.connection_string: %w", err)
		}
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return errors.New("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	if c.NATS.CircuitThreshold < 0 || c.NATS.DrainTimeout < 0 {
		return errors.New("nats.circuit_threshold and nats.drain_timeout must not be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || c.Metrics.Path == "/health" {
			return fmt.Errorf("metrics.path %q is invalid", c.Metrics.Path)
		}
	}

	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}

	return nil
}

// Validate checks the filter stage settings
func (f *FilterConfig) Validate() error {
	if err := validateSubject("input.subject", f.Input.Subject, true); err != nil {
		return err
	}
	if err := validateSubject("output.subject", f.Output.Subject, false); err != nil {
		return err
	}
	if f.Input.Subject == f.Output.Subject {
		return fmt.Errorf("input.subject and output.subject must differ (both %q)", f.Input.Subject)
	}
	if f.Input.Stream != "" && !isValidNATSSubjectPart(f.Input.Stream) {
		return fmt.Errorf("input.stream %q is not a valid stream name", f.Input.Stream)
	}
	if f.Input.Durable != "" && !isValidNATSSubjectPart(f.Input.Durable) {
		return fmt.Errorf("input.durable %q is not a valid consumer name", f.Input.Durable)
	}
	if f.Output.Stream != "" && !isValidNATSSubjectPart(f.Output.Stream) {
		return fmt.Errorf("output.stream %q is not a valid stream name", f.Output.Stream)
	}
	if f.Input.Stream != "" && f.Input.Stream == f.Output.Stream {
		return errors.New("input.stream and output.stream must differ")
	}

	if f.FieldPath == "" {
		return errors.New("field_path is required")
	}
	for _, part := range strings.Split(f.FieldPath, ".") {
		if part == "" {
			return fmt.Errorf("field_path %q has an empty segment", f.FieldPath)
		}
	}

	if (f.Twin.Bucket == "") != (f.Twin.Key == "") {
		return errors.New("twin.bucket and twin.key must be set together")
	}
	if f.Twin.PatchSubject != "" {
		if err := validateSubject("twin.patch_subject", f.Twin.PatchSubject, true); err != nil {
			return err
		}
	}

	if f.CloneBudgetBytes <= 0 {
		return fmt.Errorf("clone_budget_bytes must be positive, got %d", f.CloneBudgetBytes)
	}
	if f.MaxInFlight <= 0 {
		return fmt.Errorf("max_in_flight must be positive, got %d", f.MaxInFlight)
	}
	if f.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive, got %s", f.ConfirmTimeout)
	}
	if f.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", f.SweepInterval)
	}
	if f.PublishAsyncMaxPending <= 0 {
		return fmt.Errorf("publish_async_max_pending must be positive, got %d", f.PublishAsyncMaxPending)
	}
	if f.LogRatePerSec <= 0 {
		return fmt.Errorf("log_rate_per_sec must be positive, got %v", f.LogRatePerSec)
	}

	return nil
}

// validateSubject checks each dot-separated token of a subject. Wildcards
// are allowed only where a subscription, not a publish, uses the subject.
func validateSubject(field, subject string, allowWildcards bool) error {
	if subject == "" {
		return fmt.Errorf("%s is required", field)
	}
	tokens := strings.Split(subject, ".")
	for i, token := range tokens {
		switch {
		case allowWildcards && token == "*":
		case allowWildcards && token == ">" && i == len(tokens)-1:
		case isValidNATSSubjectPart(token):
		default:
			return fmt.Errorf("%s %q has invalid token %q", field, subject, token)
		}
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// NATSURLs resolves the server list. A connection string takes precedence
// over configured URLs.
func (c *Config) NATSURLs() []string {
	if c.NATS.ConnectionString != "" {
		if cs, err := ParseConnectionString(c.NATS.ConnectionString); err == nil {
			return []string{cs.URL}
		}
	}
	if len(c.NATS.URLs) == 0 {
		return []string{DefaultNATSURL}
	}
	return c.NATS.URLs
}

// GetOrg returns the organization from platform config
func (c *Config) GetOrg() string {
	return c.Platform.Org
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "****"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	if masked.NATS.ConnectionString != "" {
		masked.NATS.ConnectionString = MaskConnectionString(masked.NATS.ConnectionString)
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
