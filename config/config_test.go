package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_Defaults(t *testing.T) {
	loader := NewLoader()
	loader.EnableEnv(false)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultNATSURL}, cfg.NATS.URLs)
	assert.Equal(t, "input1", cfg.Filter.Input.Subject)
	assert.Equal(t, "output1", cfg.Filter.Output.Subject)
	assert.Equal(t, 25.0, cfg.Filter.DefaultThreshold)
	assert.Equal(t, "machine.temperature", cfg.Filter.FieldPath)
	assert.Equal(t, 30*time.Second, cfg.Filter.ConfirmTimeout)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "edgefilter.json", `{
		"platform": {"org": "C360", "id": "edge-01"},
		"nats": {"urls": ["nats://hub:4222"], "reconnect_wait": "5s"},
		"filter": {
			"default_threshold": 40.5,
			"confirm_timeout": "1m",
			"input": {"subject": "telemetry.in", "stream": "TELEMETRY", "ack_wait": "10s"},
			"twin": {"bucket": "twin", "key": "edge-01"}
		}
	}`)

	loader := NewLoader()
	loader.EnableEnv(false)
	loader.EnableValidation(true)

	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "c360", cfg.Platform.Org, "org is normalised to lower case")
	assert.Equal(t, []string{"nats://hub:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 40.5, cfg.Filter.DefaultThreshold)
	assert.Equal(t, time.Minute, cfg.Filter.ConfirmTimeout)
	assert.Equal(t, 10*time.Second, cfg.Filter.Input.AckWait)
	assert.Equal(t, "TELEMETRY", cfg.Filter.Input.Stream)

	// Keys absent from the file keep their defaults
	assert.Equal(t, "output1", cfg.Filter.Output.Subject)
	assert.Equal(t, "machine.temperature", cfg.Filter.FieldPath)
	assert.Equal(t, time.Second, cfg.Filter.SweepInterval)
}

func TestLoader_LoadYAMLLayers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
filter:
  default_threshold: 30
  sweep_interval: 2s
  output:
    subject: alerts
`)
	override := writeFile(t, "override.yml", `
filter:
  default_threshold: 35
`)

	loader := NewLoader()
	loader.EnableEnv(false)
	loader.AddLayer(base)
	loader.AddLayer(override)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 35.0, cfg.Filter.DefaultThreshold)
	assert.Equal(t, 2*time.Second, cfg.Filter.SweepInterval)
	assert.Equal(t, "alerts", cfg.Filter.Output.Subject)
	assert.Equal(t, "input1", cfg.Filter.Input.Subject)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("EDGEFILTER_NATS_URLS", "nats://x:4222,nats://y:4222")
	t.Setenv("EDGEFILTER_FILTER_DEFAULT_THRESHOLD", "18.5")
	t.Setenv("EDGEFILTER_FILTER_CONFIRM_TIMEOUT", "45s")
	t.Setenv("EDGEFILTER_FILTER_INPUT_SUBJECT", "sensors.temp")
	t.Setenv("EdgeHubConnectionString", "HostName=hub.local;SharedAccessKey=s3cret")

	loader := NewLoader()
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 18.5, cfg.Filter.DefaultThreshold)
	assert.Equal(t, 45*time.Second, cfg.Filter.ConfirmTimeout)
	assert.Equal(t, "sensors.temp", cfg.Filter.Input.Subject)
	assert.Equal(t, "HostName=hub.local;SharedAccessKey=s3cret", cfg.NATS.ConnectionString)
	assert.Equal(t, []string{"nats://hub.local:4222"}, cfg.NATSURLs())

	// Untouched fields keep their defaults
	assert.Equal(t, "output1", cfg.Filter.Output.Subject)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"malformed json", "bad.json", `{"filter": `},
		{"malformed yaml", "bad.yaml", "filter: [unclosed"},
		{"bad duration", "dur.json", `{"filter": {"confirm_timeout": "soon"}}`},
		{"wrong extension", "cfg.toml", `x = 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			loader := NewLoader()
			loader.EnableEnv(false)
			_, err := loader.LoadFile(path)
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		loader := NewLoader()
		loader.EnableEnv(false)
		_, err := loader.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

func TestFilterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*FilterConfig)
		wantErr string
	}{
		{"defaults", func(*FilterConfig) {}, ""},
		{"wildcard input", func(f *FilterConfig) { f.Input.Subject = "telemetry.*.temp" }, ""},
		{"empty input", func(f *FilterConfig) { f.Input.Subject = "" }, "input.subject is required"},
		{"wildcard output", func(f *FilterConfig) { f.Output.Subject = "alerts.>" }, "invalid token"},
		{"bad token", func(f *FilterConfig) { f.Input.Subject = "a..b" }, "invalid token"},
		{"same subjects", func(f *FilterConfig) { f.Output.Subject = f.Input.Subject }, "must differ"},
		{"field path", func(f *FilterConfig) { f.FieldPath = "machine..temperature" }, "empty segment"},
		{"twin half set", func(f *FilterConfig) { f.Twin.Bucket = "twin" }, "set together"},
		{"budget", func(f *FilterConfig) { f.CloneBudgetBytes = 0 }, "clone_budget_bytes"},
		{"in flight", func(f *FilterConfig) { f.MaxInFlight = -1 }, "max_in_flight"},
		{"timeout", func(f *FilterConfig) { f.ConfirmTimeout = 0 }, "confirm_timeout"},
		{"sweep", func(f *FilterConfig) { f.SweepInterval = 0 }, "sweep_interval"},
		{"pending", func(f *FilterConfig) { f.PublishAsyncMaxPending = 0 }, "publish_async_max_pending"},
		{"log rate", func(f *FilterConfig) { f.LogRatePerSec = 0 }, "log_rate_per_sec"},
		{"stream name", func(f *FilterConfig) { f.Input.Stream = "bad stream" }, "input.stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := DefaultFilterConfig()
			tt.mutate(&fc)
			err := fc.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Platform.Org = "bad org!"
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.NATS.URLs = nil
	assert.Error(t, cfg.Validate())

	cfg.NATS.ConnectionString = "HostName=hub"
	assert.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Metrics.Path = "/health"
	assert.Error(t, cfg.Validate())
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "tok"
	cfg.NATS.ConnectionString = "HostName=hub;SharedAccessKey=topsecret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "topsecret")
	assert.True(t, strings.Contains(out, "SharedAccessKey=****"))

	// The original is untouched
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestLoader_Limits(t *testing.T) {
	deep := strings.Repeat(`{"a":`, maxJSONDepth+1) + "1" + strings.Repeat("}", maxJSONDepth+1)
	path := writeFile(t, "deep.json", deep)

	loader := NewLoader()
	loader.EnableEnv(false)
	_, err := loader.LoadFile(path)
	assert.ErrorContains(t, err, "nesting depth")

	big := writeFile(t, "big.json", `{"version":"`+strings.Repeat("x", maxConfigSize)+`"}`)
	_, err = loader.LoadFile(big)
	assert.ErrorContains(t, err, "limit")

	dir := filepath.Join(t.TempDir(), "dir.json")
	require.NoError(t, os.Mkdir(dir, 0o700))
	_, err = loader.LoadFile(dir)
	assert.ErrorContains(t, err, "not a regular file")
}

func TestConfig_CloneIsIndependent(t *testing.T) {
	cfg := Defaults()
	cfg.NATS.URLs = []string{"nats://a:4222"}

	clone := cfg.Clone()
	clone.NATS.URLs[0] = "nats://b:4222"
	clone.Filter.DefaultThreshold = 99

	assert.Equal(t, "nats://a:4222", cfg.NATS.URLs[0])
	assert.Equal(t, 25.0, cfg.Filter.DefaultThreshold)
}
