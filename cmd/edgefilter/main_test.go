package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgefilter/component"
	"github.com/c360/edgefilter/health"
	"github.com/c360/edgefilter/metric"
	"github.com/c360/edgefilter/natsclient"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags(nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, validateFlags(cfg))
}

func TestParseFlags_EnvironmentFallback(t *testing.T) {
	t.Setenv("EDGEFILTER_LOG_FORMAT", "text")
	t.Setenv("EDGEFILTER_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("EDGEFILTER_DEBUG", "true")

	cfg, err := parseFlags([]string{"--log-level=warn"})
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel, "debug overrides the level")
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid", []string{"--log-level=error", "--log-format=text"}, false},
		{"bad level", []string{"--log-level=verbose"}, true},
		{"bad format", []string{"--log-format=xml"}, true},
		{"missing config", []string{"--config=/does/not/exist.yaml"}, true},
		{"zero timeout", []string{"--shutdown-timeout=0s"}, true},
		{"version skips checks", []string{"--version", "--log-level=verbose"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.args)
			require.NoError(t, err)
			if tt.wantErr {
				assert.Error(t, validateFlags(cfg))
			} else {
				assert.NoError(t, validateFlags(cfg))
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, describe(&buf))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "tempfilter", out["meta"].(map[string]any)["name"])
	assert.NotEmpty(t, out["inputs"])

	schema := out["json_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "default_threshold")
}

func TestParseFlags_UnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"--nope"})
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "threshold", 25.0)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, Version, entry["version"])
}

func TestNATSLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newNATSLogger(setupLogger(&buf, "info", "text"))

	l.Debugf("dropped %d", 1)
	l.Printf("Connected to NATS at %s", "nats://localhost:4222")
	l.Errorf("async error: %v", errors.New("slow consumer"))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "component=natsclient")
	assert.Contains(t, out, "Connected to NATS at nats://localhost:4222")
	assert.Contains(t, out, "level=ERROR")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgefilter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platform:
  org: c360
  id: edge-01
filter:
  default_threshold: 30
  confirm_timeout: 5s
  twin:
    bucket: twin
    key: tempfilter
`), 0o600))

	cfg, err := initializeConfiguration(&CLIConfig{ConfigPath: path})
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Filter.DefaultThreshold)
	assert.Equal(t, 5*time.Second, cfg.Filter.ConfirmTimeout)
	assert.Equal(t, "twin", cfg.Filter.Twin.Bucket)
	assert.Equal(t, "input1", cfg.Filter.Input.Subject)
}

func TestInitializeConfiguration_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgefilter.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"filter":{"max_in_flight":0}}`), 0o600))

	_, err := initializeConfiguration(&CLIConfig{ConfigPath: path})
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentOnly(t *testing.T) {
	t.Setenv("EDGEFILTER_FILTER_DEFAULT_THRESHOLD", "42.5")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 42.5, cfg.Filter.DefaultThreshold)
}

type fakeComponent struct {
	component.Discoverable
	status component.HealthStatus
}

func (f *fakeComponent) Meta() component.Metadata {
	return component.Metadata{Name: "tempfilter", Type: "processor"}
}

func (f *fakeComponent) Health() component.HealthStatus { return f.status }

type mockProbe struct {
	mock.Mock
}

func (m *mockProbe) Status() natsclient.ConnectionStatus {
	return m.Called().Get(0).(natsclient.ConnectionStatus)
}

func (m *mockProbe) RTT() (time.Duration, error) {
	args := m.Called()
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *mockProbe) PublishAsyncPending() int {
	return m.Called().Int(0)
}

func TestHealthReporter(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()
	probe := &mockProbe{}
	probe.On("Status").Return(natsclient.StatusConnected).Once()
	probe.On("Status").Return(natsclient.StatusReconnecting).Once()
	probe.On("Status").Return(natsclient.StatusCircuitOpen).Once()
	probe.On("RTT").Return(12*time.Millisecond, nil).Once()
	probe.On("RTT").Return(time.Duration(0), natsclient.ErrNotConnected)
	probe.On("PublishAsyncPending").Return(3)
	filter := &fakeComponent{status: component.HealthStatus{Healthy: true, MessagesProcessed: 7}}

	reporter := newHealthReporter(health.NewMonitor(time.Minute), core, probe)
	reporter.track(filter)
	reporter.sample()

	report, healthy := reporter.report()
	assert.True(t, healthy)
	status := report.(health.Status)
	assert.Equal(t, health.StateHealthy, status.Status)
	assert.Len(t, status.SubStatuses, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected))
	assert.Equal(t, 12.0, testutil.ToFloat64(core.NATSRTT))
	assert.Equal(t, 3.0, testutil.ToFloat64(core.NATSPublishPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("tempfilter")))

	reporter.sample()
	report, healthy = reporter.report()
	assert.True(t, healthy)
	assert.Equal(t, health.StateDegraded, report.(health.Status).Status)

	filter.status = component.HealthStatus{Healthy: false, LastError: "stopped"}
	reporter.sample()
	_, healthy = reporter.report()
	assert.False(t, healthy)
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSCircuitBreaker))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.HealthCheckStatus.WithLabelValues("tempfilter")))
	assert.Equal(t, 12.0, testutil.ToFloat64(core.NATSRTT), "failed probes keep the last RTT")
	probe.AssertExpectations(t)
}
