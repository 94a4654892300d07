package tempfilter_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgefilter/component"
	"github.com/c360/edgefilter/config"
	"github.com/c360/edgefilter/natsclient"
	"github.com/c360/edgefilter/processor/tempfilter"
)

// Package-level shared test client to avoid Docker resource exhaustion
var (
	sharedTestClient *natsclient.TestClient
	sharedNATSClient *natsclient.Client
)

// TestMain sets up a single shared NATS container for all filter integration tests
func TestMain(m *testing.M) {
	if os.Getenv("INTEGRATION_TESTS") != "" {
		testClient, err := natsclient.NewSharedTestClient(natsclient.WithIntegrationDefaults())
		if err != nil {
			panic("Failed to create shared test client: " + err.Error())
		}

		sharedTestClient = testClient
		sharedNATSClient = testClient.Client
	}

	exitCode := m.Run()

	if sharedTestClient != nil {
		sharedTestClient.Terminate()
	}

	os.Exit(exitCode)
}

func getSharedNATSClient(t *testing.T) *natsclient.Client {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	if sharedNATSClient == nil {
		t.Fatal("Shared NATS client not initialized - TestMain should have created it")
	}
	return sharedNATSClient
}

func startProcessor(t *testing.T, client *natsclient.Client, cfg config.FilterConfig, platform string) *tempfilter.Processor {
	t.Helper()

	p, err := tempfilter.NewProcessor(cfg, component.Dependencies{
		NATSClient: client,
		Logger:     slog.New(slog.DiscardHandler),
		Platform:   component.PlatformMeta{Org: "c360", Platform: platform},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	t.Cleanup(func() { _ = p.Stop(5 * time.Second) })
	return p
}

func publishTemperature(t *testing.T, client *natsclient.Client, subject, body string) {
	t.Helper()
	msg := nats.NewMsg(subject)
	msg.Data = []byte(body)
	msg.Header.Set("sensor", "machine-1")
	require.NoError(t, client.PublishMsg(context.Background(), msg))
}

func TestIntegration_FilterWithTwinConfiguration(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.DefaultFilterConfig()
	cfg.Input.Subject = "it1.input"
	cfg.Output.Subject = "it1.alerts"
	cfg.Output.Stream = "IT1_ALERTS"
	cfg.Twin = config.TwinConfig{Bucket: "it1_twin", Key: "tempfilter", PatchSubject: "it1.patch"}
	cfg.SweepInterval = 100 * time.Millisecond

	p := startProcessor(t, client, cfg, "it1")

	// The desired-state document sets the threshold
	store, err := client.OpenDocStore(ctx, natsclient.DocStoreConfig{Bucket: "it1_twin"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "tempfilter", []byte(`{"desired":{"TemperatureThreshold":30}}`))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Threshold() == 30 }, 5*time.Second, 20*time.Millisecond)

	publishTemperature(t, client, "it1.input", `{"machine":{"temperature":30}}`)
	publishTemperature(t, client, "it1.input", `{"machine":{"temperature":31.5}}`)
	publishTemperature(t, client, "it1.input", `{"ambient":{"temperature":99}}`)

	require.Eventually(t, func() bool {
		return p.Sequence() == 3 && p.Stats().Confirmed == 1
	}, 5*time.Second, 20*time.Millisecond)

	stream, err := client.GetStream(ctx, "IT1_ALERTS")
	require.NoError(t, err)
	stored, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"machine":{"temperature":31.5}}`, string(stored.Data))
	assert.Equal(t, tempfilter.MessageTypeAlert, stored.Header.Get(tempfilter.MessageTypeProperty))
	assert.Equal(t, "machine-1", stored.Header.Get("sensor"))

	// A patch overrides the desired state
	require.NoError(t, client.Publish(ctx, "it1.patch", []byte(`{"TemperatureThreshold":20}`)))
	require.Eventually(t, func() bool { return p.Threshold() == 20 }, 5*time.Second, 20*time.Millisecond)

	publishTemperature(t, client, "it1.input", `{"machine":{"temperature":25}}`)
	require.Eventually(t, func() bool { return p.Stats().Confirmed == 2 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int64(0), p.BudgetStats().InUse)
}

func TestIntegration_JetStreamIngressAcks(t *testing.T) {
	client := getSharedNATSClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.DefaultFilterConfig()
	cfg.Input = config.InputConfig{
		Subject:    "it2.input",
		Stream:     "IT2_TELEMETRY",
		AckWait:    5 * time.Second,
		MaxDeliver: 3,
	}
	cfg.Output = config.OutputConfig{Subject: "it2.alerts", Stream: "IT2_ALERTS"}

	p := startProcessor(t, client, cfg, "it2")

	js, err := client.JetStream()
	require.NoError(t, err)
	for _, body := range []string{
		`{"machine":{"temperature":12}}`,
		`{"machine":{"temperature":40}}`,
		`not json`,
	} {
		_, err := js.Publish(ctx, "it2.input", []byte(body))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return p.Sequence() == 3 && p.Stats().Confirmed == 1
	}, 5*time.Second, 20*time.Millisecond)

	consumer, err := js.Consumer(ctx, "IT2_TELEMETRY", "tempfilter-it2")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := consumer.Info(ctx)
		return err == nil && info.NumAckPending == 0 && info.NumPending == 0
	}, 5*time.Second, 50*time.Millisecond)

	alerts, err := client.GetStream(ctx, "IT2_ALERTS")
	require.NoError(t, err)
	info, err := alerts.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}
