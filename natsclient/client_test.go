package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/edgefilter/errors"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
}

func TestNewClient_InvalidOption(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithPublishAsyncMaxPending(0))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.failures.Load())
}

func TestCircuitBreaker_Threshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.failures.Load())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.LessOrEqual(t, client.Backoff(), time.Minute)
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client.setStatus(StatusCircuitOpen)
	client.testCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())

	// Only an open circuit is moved
	client.setStatus(StatusConnected)
	client.testCircuit()
	assert.Equal(t, StatusConnected, client.Status())
}

func TestConnect_CircuitOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestOperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.CreateStream(ctx, jetstream.StreamConfig{Name: "TELEMETRY"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.ConsumeStream(ctx, ConsumerSpec{Stream: "TELEMETRY"}, func(jetstream.Msg) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.PublishMsgAsync(nats.NewMsg("output1"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "twin"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.Subscribe(ctx, "twin.patch", func(context.Context, *nats.Msg) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, client.Publish(ctx, "input1", []byte("{}")), ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Zero(t, client.PublishAsyncPending())
}

func TestOperationsRejectedWhenCircuitOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)

	_, err = client.PublishMsgAsync(nats.NewMsg("output1"))
	assert.ErrorIs(t, err, ErrCircuitOpen)

	_, err = client.GetStream(context.Background(), "TELEMETRY")
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithToken("secret"))
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.token)
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("edge", "pw"),
		WithToken("tok"),
		WithTLS("cert.pem", "key.pem", "ca.pem"),
		WithName("edgefilter-1"),
	)
	require.NoError(t, err)

	plain, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	// user info, token, client cert, root CAs and name on top of the base set
	assert.Len(t, client.buildConnectionOptions(), len(plain.buildConnectionOptions())+5)
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, fn := range []func(){
		func() { client.setStatus(StatusConnected) },
		func() { _ = client.Status() },
		func() { client.recordFailure() },
		func() { client.resetCircuit() },
		func() { _, _ = client.RTT() },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				fn()
			}
		}()
	}
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected, StatusConnecting, StatusConnected, StatusReconnecting, StatusCircuitOpen,
	}, client.Status())
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(jetstream.ErrBucketExists))
	assert.True(t, isAlreadyExistsError(errors.Wrap(jetstream.ErrStreamNameAlreadyInUse, "Client", "CreateStream", "create")))
}

func TestNewClient_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"zero timeout", WithTimeout(0)},
		{"reconnects below -1", WithMaxReconnects(-2)},
		{"cert without key", WithTLS("cert.pem", "", "")},
		{"zero async pending", WithPublishAsyncMaxPending(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tt.opt)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestNewClient_ZeroKeepsDefaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithDrainTimeout(0),
		WithCircuitBreakerThreshold(0),
		WithMetricsInterval(0),
	)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, client.drainTimeout)
	assert.Equal(t, int32(5), client.circuitThreshold)
	assert.Equal(t, 15*time.Second, client.metricsInterval)
}
